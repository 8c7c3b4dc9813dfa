// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package graph is the channel graph (component C3): the map from
// (src, dst, node) to a Channel carrying its AEAD key and FIFO queue, the
// listener set, and the direct-hand-off inbox. It lives under internal/
// so that edges and inbox stay reachable only from the ipc package that
// composes this module, never from an external importer.
package graph

import (
	"sync"
	"time"
)

// NoPID is the reserved "none" process identifier.
const NoPID int64 = 0

// LocalNodeSentinel, when used as a ChannelKey.Node, means "the local
// node"; callers normally substitute the driver's actual local node id
// before it ever reaches the graph.
const LocalNodeSentinel uint64 = 0

// AnyNode is used only in lookups to mean "match any node".
const AnyNode uint64 = ^uint64(0)

// SecretSize is the width of a channel's AEAD key.
const SecretSize = 32

// ChannelKey identifies a channel by (source, destination, node). Keys are
// compared for equality field-by-field; ChannelKey.Less gives the
// lexicographic total order the spec requires for ordered scans.
type ChannelKey struct {
	Src  int64
	Dst  int64
	Node uint64
}

// Less reports whether k sorts before other under lexicographic order on
// (Src, Dst, Node).
func (k ChannelKey) Less(other ChannelKey) bool {
	if k.Src != other.Src {
		return k.Src < other.Src
	}
	if k.Dst != other.Dst {
		return k.Dst < other.Dst
	}
	return k.Node < other.Node
}

// Channel connects two processes. Once created, Key is immutable; Secret
// is written by SetSecret (including on an existing channel), and Queue is
// mutated by Enqueue and PopQueue.
type Channel struct {
	Key    ChannelKey
	Secret [SecretSize]byte
	Queue  [][]byte
}

// Graph stores channels as a key-addressed map plus an append-only
// insertion-order index (spec.md §4.4.4 step 2 requires scanning matching
// channels "in insertion order"), the listening set, and the hand-off
// inbox. All exported operations are atomic with respect to one another
// under a single mutex, per spec.md §4.3's invariant.
type Graph struct {
	mu        sync.Mutex
	cond      *sync.Cond
	edges     map[ChannelKey]*Channel
	order     []ChannelKey
	listening map[int64]bool
	inbox     map[int64][]byte
}

// New returns an empty Graph.
func New() *Graph {
	g := &Graph{
		edges:     make(map[ChannelKey]*Channel),
		listening: make(map[int64]bool),
		inbox:     make(map[int64][]byte),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Connect returns the existing channel for the exact key, or inserts and
// returns a new one with a zero secret and empty queue.
func (g *Graph) Connect(key ChannelKey) *Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectLocked(key)
}

func (g *Graph) connectLocked(key ChannelKey) *Channel {
	if c, ok := g.edges[key]; ok {
		return c
	}
	c := &Channel{Key: key}
	g.edges[key] = c
	g.order = append(g.order, key)
	return c
}

// Find performs an exact lookup, or, when key.Node == AnyNode, returns the
// first channel (in insertion order) matching (src, dst) with any node.
func (g *Graph) Find(key ChannelKey) (*Channel, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.findLocked(key)
}

func (g *Graph) findLocked(key ChannelKey) (*Channel, bool) {
	if key.Node != AnyNode {
		c, ok := g.edges[key]
		return c, ok
	}
	for _, k := range g.order {
		if k.Src == key.Src && k.Dst == key.Dst {
			return g.edges[k], true
		}
	}
	return nil, false
}

// ChannelsTo returns, in insertion order, every channel whose Dst and Node
// match the arguments. Used by recv to scan candidate queues in the order
// spec.md §4.4.4 mandates.
func (g *Graph) ChannelsTo(dst int64, node uint64) []*Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Channel
	for _, k := range g.order {
		if k.Dst == dst && k.Node == node {
			out = append(out, g.edges[k])
		}
	}
	return out
}

// IsListening reports whether pid is currently waiting for direct
// hand-off.
func (g *Graph) IsListening(pid int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listening[pid]
}

// SetListening sets or clears pid's listening flag.
func (g *Graph) SetListening(pid int64, flag bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if flag {
		g.listening[pid] = true
	} else {
		delete(g.listening, pid)
	}
}

// Inbox returns pid's pending hand-off message, if any, and clears it.
func (g *Graph) Inbox(pid int64) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	msg, ok := g.inbox[pid]
	if ok {
		delete(g.inbox, pid)
	}
	return msg, ok
}

// TryHandoff delivers msg directly to dst's inbox if dst is currently
// listening, atomically clearing the listening flag as the spec's send
// path requires. It reports whether the hand-off happened; on false, the
// caller falls back to enqueuing on a channel.
func (g *Graph) TryHandoff(dst int64, msg []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.listening[dst] {
		return false
	}
	delete(g.listening, dst)
	g.inbox[dst] = msg
	g.cond.Broadcast()
	return true
}

// Enqueue appends msg to the channel at key's queue, creating the channel
// if absent, while holding the graph mutex so a concurrent Find/TryHandoff
// cannot interleave with the append.
func (g *Graph) Enqueue(key ChannelKey, msg []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.connectLocked(key)
	c.Queue = append(c.Queue, msg)
	g.cond.Broadcast()
}

// WaitReady blocks until pid's inbox is populated or any channel
// (pid, node) has a non-empty queue, or deadline elapses, whichever comes
// first. It reports whether a matching condition was observed. The
// monotonic deadline is enforced by a timer goroutine that broadcasts on
// the same condition variable, since sync.Cond has no native timeout.
func (g *Graph) WaitReady(pid int64, node uint64, deadline time.Time) bool {
	timer := time.AfterFunc(time.Until(deadline), func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer timer.Stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		if _, ok := g.inbox[pid]; ok {
			return true
		}
		if g.hasReadyQueueLocked(pid, node) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		g.cond.Wait()
	}
}

func (g *Graph) hasReadyQueueLocked(dst int64, node uint64) bool {
	for _, k := range g.order {
		if k.Dst == dst && k.Node == node {
			if c := g.edges[k]; len(c.Queue) > 0 {
				return true
			}
		}
	}
	return false
}

// PopQueue removes and returns the head of the channel at key's queue.
func (g *Graph) PopQueue(key ChannelKey) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.edges[key]
	if !ok || len(c.Queue) == 0 {
		return nil, false
	}
	msg := c.Queue[0]
	c.Queue = c.Queue[1:]
	return msg, true
}

// SetSecret installs the shared AEAD key on the channel at key, creating
// it if absent. Used by Connect to write the same secret into both
// directions of a pair.
func (g *Graph) SetSecret(key ChannelKey, secret [SecretSize]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.connectLocked(key)
	c.Secret = secret
}
