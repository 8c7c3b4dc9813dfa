package netdriver

import (
	"testing"

	"github.com/latticeos/lattice/generic"
)

func TestQueueDropOldestKeepsNewest(t *testing.T) {
	q := newRecvQueue(1, generic.DropOldest)

	q.Push(generic.Packet{Payload: []byte{0x01}})
	q.Push(generic.Packet{Payload: []byte{0x02}})

	if got := q.Len(); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
	pkt, ok := q.Pop()
	if !ok || pkt.Payload[0] != 0x02 {
		t.Fatalf("Pop() = %v, %v, want {0x02}, true", pkt, ok)
	}
}

func TestQueueDropNewestKeepsOldest(t *testing.T) {
	q := newRecvQueue(1, generic.DropNewest)

	q.Push(generic.Packet{Payload: []byte{0x01}})
	q.Push(generic.Packet{Payload: []byte{0x02}})

	if got := q.Len(); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
	pkt, ok := q.Pop()
	if !ok || pkt.Payload[0] != 0x01 {
		t.Fatalf("Pop() = %v, %v, want {0x01}, true", pkt, ok)
	}
}

func TestQueueUnboundedWhenMaxLenZero(t *testing.T) {
	q := newRecvQueue(0, generic.DropNewest)
	for i := 0; i < 1000; i++ {
		q.Push(generic.Packet{Payload: []byte{byte(i)}})
	}
	if got := q.Len(); got != 1000 {
		t.Fatalf("unbounded queue length = %d, want 1000", got)
	}
}

func TestQueuePopEmptyReturnsFalse(t *testing.T) {
	q := newRecvQueue(4, generic.DropNewest)
	if _, ok := q.Pop(); ok {
		t.Fatalf("expected Pop on an empty queue to report false")
	}
}
