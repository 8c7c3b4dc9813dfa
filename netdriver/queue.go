package netdriver

import (
	"sync"

	"github.com/latticeos/lattice/generic"
	"github.com/latticeos/lattice/std"
)

// recvQueue is the driver's bounded FIFO of inbound packets, independent
// of the channel graph's own mutex (spec.md §4.5: "the driver's receive
// queue has its own mutex independent of the graph's").
type recvQueue struct {
	mu       sync.Mutex
	items    []generic.Packet
	maxLen   int
	overflow generic.OverflowPolicy
}

func newRecvQueue(maxLen int, overflow generic.OverflowPolicy) *recvQueue {
	return &recvQueue{maxLen: maxLen, overflow: overflow}
}

// Push enqueues pkt, applying the overflow policy if the queue is at
// capacity. Overflow is silent to the caller (spec.md §7) but is counted
// in std.DefaultStats.DropOverflow.
func (q *recvQueue) Push(pkt generic.Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxLen <= 0 || len(q.items) < q.maxLen {
		q.items = append(q.items, pkt)
		return
	}

	std.DefaultStats.IncDropOverflow()
	switch q.overflow {
	case generic.DropOldest:
		q.items = append(q.items[1:], pkt)
	default: // DropNewest
		// discard pkt
	}
}

// Pop dequeues the head packet, non-blocking.
func (q *recvQueue) Pop() (generic.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return generic.Packet{}, false
	}
	pkt := q.items[0]
	q.items = q.items[1:]
	return pkt, true
}

// Reset clears all pending packets without disturbing sockets.
func (q *recvQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Len reports the current queue depth.
func (q *recvQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
