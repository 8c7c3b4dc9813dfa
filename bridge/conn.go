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

package bridge

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latticeos/lattice/ipc"
	"github.com/pkg/errors"
)

// ErrReadTimeout is returned by ChannelConn.Read once a deadline set via
// SetReadDeadline has passed without a message arriving.
var ErrReadTimeout = errors.New("bridge: read deadline exceeded")

// ChannelConn adapts one direction pair of a lattice channel (self, peer,
// node) to io.ReadWriteCloser, the shape the teacher's smux.Stream,
// net.Conn, std.CompStream and std.QPPPort all already share. That lets
// latticed/latticec hand a ChannelConn straight to std.Pipe alongside a
// plain net.Conn, exactly the way the teacher bridges a smux.Stream to a
// dialed upstream connection.
type ChannelConn struct {
	n    *ipc.Node
	self int64
	peer int64
	node uint64

	mu       sync.Mutex
	pending  []byte
	deadline time.Time

	closed int32
}

// NewChannelConn returns a ChannelConn reading messages addressed to self
// and writing messages from self to peer, both over node.
func NewChannelConn(n *ipc.Node, self, peer int64, node uint64) *ChannelConn {
	return &ChannelConn{n: n, self: self, peer: peer, node: node}
}

// SetReadDeadline bounds how long Read will wait for the next chunk. A zero
// Time (the default) means Read blocks until a message arrives or the
// connection is closed, matching the long-lived bridged sessions
// latticed/latticec hold open; a handshake sets a deadline explicitly.
func (c *ChannelConn) SetReadDeadline(t time.Time) {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
}

// Read implements io.Reader, reassembling PayloadSize-1-byte chunks into
// the caller's buffer and returning io.EOF once the peer's close chunk
// arrives.
func (c *ChannelConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	for {
		if atomic.LoadInt32(&c.closed) != 0 {
			return 0, io.ErrClosedPipe
		}
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, ErrReadTimeout
		}

		msg, err := c.n.Recv(c.self, ipc.Blocking)
		if err == ipc.ErrNoMessage {
			continue
		}
		if err != nil {
			return 0, err
		}

		data, closed := decodeChunk(msg)
		if closed {
			return 0, io.EOF
		}
		if len(data) == 0 {
			continue
		}

		n := copy(p, data)
		if n < len(data) {
			c.mu.Lock()
			c.pending = append([]byte(nil), data[n:]...)
			c.mu.Unlock()
		}
		return n, nil
	}
}

// Write implements io.Writer, splitting p into chunkDataSize-byte Messages.
func (c *ChannelConn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if n > chunkDataSize {
			n = chunkDataSize
		}
		if err := c.n.Send(c.self, c.peer, encodeChunk(p[:n]), ipc.Blocking); err != nil {
			return total - len(p), err
		}
		p = p[n:]
	}
	return total, nil
}

// Close sends the end-of-stream chunk (best-effort) and marks the
// connection closed; further Reads return io.ErrClosedPipe. Idempotent.
func (c *ChannelConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	_ = c.n.Send(c.self, c.peer, encodeCloseChunk(), ipc.Nonblock)
	return nil
}
