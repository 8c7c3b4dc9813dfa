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

// Package ipc implements the IPC protocol (C4) and network poller (C5):
// connect/listen/send/recv, local-vs-remote routing, blocking semantics,
// scheduler interaction, and frame encrypt/decrypt. A Node bundles the
// channel graph, network driver, crypto primitives, and scheduler behind
// one explicit handle, per spec.md §9's redesign of the original's global
// singleton.
package ipc

import (
	"net"
	"time"

	"github.com/latticeos/lattice/internal/graph"
	"github.com/latticeos/lattice/netdriver"
	"github.com/latticeos/lattice/pqcrypto"
	"github.com/latticeos/lattice/sched"
	"github.com/latticeos/lattice/std"
	"github.com/pkg/errors"
)

// Flags select lattice_send/lattice_recv's blocking behavior.
type Flags int

const (
	// Blocking is the default: send queues when there is no listener;
	// recv waits up to RecvTimeout for a message.
	Blocking Flags = iota
	// Nonblock makes send fail immediately with ErrTryAgain instead of
	// queuing, and recv fail immediately with ErrNoMessage instead of
	// waiting.
	Nonblock
)

// RecvTimeout is the hard upper bound on a blocking Recv, enforced on a
// monotonic clock (spec.md §4.4.5, §4.5).
const RecvTimeout = 100 * time.Millisecond

// Errors returned at the IPC boundary (spec.md §6).
var (
	ErrTryAgain    = errors.New("lattice: would block")
	ErrIO          = errors.New("lattice: network I/O error")
	ErrNoMessage   = errors.New("lattice: no message available")
	ErrKeyExchange = errors.New("lattice: key exchange failed")
)

// Node bundles the channel graph, network driver, and scheduler behind
// one explicit handle instead of a process-wide mutable singleton.
type Node struct {
	graph  *graph.Graph
	driver *netdriver.Driver
	sched  sched.Scheduler
}

// NewNode initializes a Node's network driver per cfg and wires it to a
// fresh channel graph and the given scheduler. If sc is nil, an in-process
// sched.Default is used, so a Node is fully runnable standalone.
func NewNode(cfg netdriver.Config, sc sched.Scheduler) (*Node, error) {
	driver, err := netdriver.Init(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init network driver")
	}
	if sc == nil {
		sc = sched.NewDefault()
	}

	n := &Node{
		graph:  graph.New(),
		driver: driver,
		sched:  sc,
	}
	driver.SetRecvCallback(n.handleDriverPacket)
	return n, nil
}

// LocalNode returns the driver's stable local node identifier.
func (n *Node) LocalNode() uint64 {
	return n.driver.LocalNode()
}

// AddRemote registers a remote peer with the network driver, see
// netdriver.Driver.AddRemote.
func (n *Node) AddRemote(node uint64, host string, port uint16, proto netdriver.Protocol) error {
	return n.driver.AddRemote(node, host, port, proto)
}

// Shutdown tears down the underlying network driver.
func (n *Node) Shutdown() {
	n.driver.Shutdown()
}

// UDPLocalAddr exposes the driver's bound UDP address, mainly so tests
// exercising two Nodes over a real loopback socket can learn an
// ephemeral port assigned at NewNode.
func (n *Node) UDPLocalAddr() net.Addr {
	return n.driver.UDPLocalAddr()
}

// Connect establishes a channel between src and dst (spec.md §4.4.1). If
// node == 0, the local node is substituted. Two fresh KEM keypairs stand
// in for a real two-party exchange (both endpoints must arrive at the
// same secret; see pqcrypto.ComputeSharedSecret's order-independence).
func (n *Node) Connect(src, dst int64, node uint64) error {
	if node == 0 {
		node = n.LocalNode()
	}

	a, err := pqcrypto.GenerateKeypair()
	if err != nil {
		return errors.Wrap(err, "generate keypair A")
	}
	b, err := pqcrypto.GenerateKeypair()
	if err != nil {
		return errors.Wrap(err, "generate keypair B")
	}
	secret, ok := pqcrypto.ComputeSharedSecret(a, b)
	if !ok {
		return ErrKeyExchange
	}

	n.SetChannelSecret(src, dst, node, secret)
	return nil
}

// SetChannelSecret installs secret on both directions of the (a, b, node)
// pair, the way Connect does for its same-process simulation. cmd/latticed
// and cmd/latticec call this directly once their own bootstrap handshake
// (see pqcrypto.Encapsulate/Decapsulate) has produced a secret neither side
// simulated alone.
func (n *Node) SetChannelSecret(a, b int64, node uint64, secret [pqcrypto.SecretSize]byte) {
	n.graph.SetSecret(graph.ChannelKey{Src: a, Dst: b, Node: node}, secret)
	n.graph.SetSecret(graph.ChannelKey{Src: b, Dst: a, Node: node}, secret)
}

// Listen sets src.md §4.4.2: marks pid as waiting for direct hand-off.
// Idempotent.
func (n *Node) Listen(pid int64) {
	n.graph.SetListening(pid, true)
}

// Send implements spec.md §4.4.3.
func (n *Node) Send(src, dst int64, msg Message, flags Flags) error {
	key := graph.ChannelKey{Src: src, Dst: dst, Node: graph.AnyNode}
	c, ok := n.graph.Find(key)
	if !ok {
		c = n.graph.Connect(graph.ChannelKey{Src: src, Dst: dst, Node: n.LocalNode()})
	}

	if c.Key.Node != n.LocalNode() {
		return n.sendRemote(src, dst, c, msg)
	}
	return n.sendLocal(src, dst, msg, flags)
}

func (n *Node) sendRemote(src, dst int64, c *graph.Channel, msg Message) error {
	frame, err := encodeFrame(src, dst, msg.Payload, c.Secret)
	if err != nil {
		std.DefaultStats.IncSendErr()
		return errors.Wrap(err, "encode frame")
	}
	if err := n.driver.Send(c.Key.Node, frame); err != nil {
		std.DefaultStats.IncSendErr()
		return ErrIO
	}
	std.DefaultStats.IncSendOK()
	return nil
}

func (n *Node) sendLocal(src, dst int64, msg Message, flags Flags) error {
	blob := encodeGraphMessage(src, msg.Payload)

	if n.graph.TryHandoff(dst, blob) {
		n.sched.Unblock(dst)
		n.sched.YieldTo(dst)
		std.DefaultStats.IncSendOK()
		return nil
	}

	if flags == Nonblock {
		std.DefaultStats.IncSendErr()
		return ErrTryAgain
	}

	// No listener at the moment of the TryHandoff check above: queue the
	// message. A receiver blocked in Recv's WaitReady is woken by the
	// graph's condition variable as soon as Enqueue appends it, and will
	// find it by scanning its channel queues (spec.md §4.4.3.c).
	key := graph.ChannelKey{Src: src, Dst: dst, Node: n.LocalNode()}
	n.graph.Enqueue(key, blob)
	std.DefaultStats.IncSendOK()
	return nil
}

// Recv implements spec.md §4.4.4.
func (n *Node) Recv(pid int64, flags Flags) (Message, error) {
	if msg, ok := n.tryRecv(pid); ok {
		std.DefaultStats.IncRecvOK()
		return msg, nil
	}

	if flags == Nonblock {
		return Message{}, ErrNoMessage
	}

	n.graph.SetListening(pid, true)
	n.sched.BlockOn(pid, RecvTimeout)

	ready := n.graph.WaitReady(pid, n.LocalNode(), time.Now().Add(RecvTimeout))
	n.graph.SetListening(pid, false)
	n.sched.Unblock(pid)

	if !ready {
		std.DefaultStats.IncRecvTimeout()
		return Message{}, ErrNoMessage
	}
	if msg, ok := n.tryRecv(pid); ok {
		std.DefaultStats.IncRecvOK()
		return msg, nil
	}
	std.DefaultStats.IncRecvTimeout()
	return Message{}, ErrNoMessage
}

// tryRecv checks the inbox, then matching channel queues in insertion
// order, per spec.md §4.4.4 steps 1-2.
func (n *Node) tryRecv(pid int64) (Message, bool) {
	if blob, ok := n.graph.Inbox(pid); ok {
		return decodeGraphMessage(blob), true
	}

	for _, c := range n.graph.ChannelsTo(pid, n.LocalNode()) {
		if blob, ok := n.graph.PopQueue(c.Key); ok {
			return decodeGraphMessage(blob), true
		}
	}
	return Message{}, false
}
