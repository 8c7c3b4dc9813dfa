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

// Package generic holds small cross-cutting types shared by the network
// driver's UDP and TCP halves.
package generic

import "net"

// Protocol names a wire transport for a registered peer.
type Protocol int

const (
	// UDP is datagram delivery with no handshake.
	UDP Protocol = iota
	// TCP is a persistent stream with a 4-byte big-endian length prefix
	// per frame.
	TCP
)

func (p Protocol) String() string {
	switch p {
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// OverflowPolicy selects which element a bounded receive queue drops when
// full.
type OverflowPolicy int

const (
	// DropNewest discards the arriving packet, keeping the queue's
	// existing contents.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the head of the queue to make room for the
	// arrival.
	DropOldest
)

// Packet is an inbound frame after protocol-level framing has been
// stripped: the sender's registered node identifier and the raw payload
// bytes (still AEAD-sealed at this layer).
type Packet struct {
	SrcNode uint64
	Payload []byte
}

// Transport is the capability set a network driver half must offer,
// generalized over UDP and TCP: resolve a peer address, connect-or-register
// it, send a framed payload, receive the next framed payload, and close.
// netdriver holds one Transport per protocol and dispatches on the peer's
// registered Protocol.
type Transport interface {
	// Register resolves host:port and records the peer under node. For a
	// stream transport this also opens (and keeps open) the connection;
	// for a datagram transport it only records the address.
	Register(node uint64, host string, port uint16) error

	// Send transmits payload to the peer registered as node. Returns an
	// error if node is unregistered or the underlying socket operation
	// fails.
	Send(node uint64, payload []byte) error

	// SetRecvCallback installs a callback invoked from this transport's
	// receive loop for every arriving, demultiplexed packet. The callback
	// must return quickly and must not call back into the transport.
	SetRecvCallback(cb func(Packet))

	// LocalAddr reports the transport's bound local address, used by
	// self-identification.
	LocalAddr() net.Addr

	// Close terminates the transport's background receive loop and
	// closes its sockets. Idempotent.
	Close() error
}
