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

package ipc

import (
	"encoding/binary"

	"github.com/latticeos/lattice/generic"
	"github.com/latticeos/lattice/internal/graph"
	"github.com/latticeos/lattice/std"
)

// PollNetwork drains the driver's receive queue, demultiplexes frames to
// channels, validates and decrypts them, and wakes waiters (C5,
// spec.md §4.4.5). It is safe to call periodically from a single poller
// goroutine; handleDriverPacket (installed as the driver's receive
// callback) performs the same routing from the driver's own receive
// thread, so callers may rely on either the callback or periodic polling,
// or both, per spec.md §9's free-function-vs-callback open design note.
func (n *Node) PollNetwork() {
	for {
		pkt, ok := n.driver.Recv()
		if !ok {
			return
		}
		n.handleDriverPacket(pkt)
	}
}

// handleDriverPacket implements spec.md §4.4.5 steps 1-7 for a single
// inbound frame, whether it arrived via the driver's callback or via a
// PollNetwork drain.
func (n *Node) handleDriverPacket(pkt generic.Packet) {
	if len(pkt.Payload) != FrameSize {
		std.DefaultStats.IncDropFraming()
		return // framing error, silently dropped (spec.md §7)
	}

	srcPid, dstPid, ok := peekPids(pkt.Payload)
	if !ok {
		std.DefaultStats.IncDropFraming()
		return
	}

	// The channel is keyed by (src_pid, dst_pid, the packet's sender
	// node); absent, it is created here so a peer that performed its own
	// key exchange can still be recognized once Connect has populated a
	// matching secret through some out-of-band agreement (spec.md §4.4.5
	// step 3).
	key := graph.ChannelKey{Src: srcPid, Dst: dstPid, Node: pkt.SrcNode}
	c := n.graph.Connect(key)
	if isZeroSecret(c.Secret) {
		std.DefaultStats.IncDropAuth()
		return
	}

	_, _, payload, opened := decodeFrame(pkt.Payload, c.Secret)
	if !opened {
		std.DefaultStats.IncDropAuth()
		return // authentication failure, silently dropped (spec.md §7)
	}

	blob := encodeGraphMessage(srcPid, payload)

	if n.graph.TryHandoff(dstPid, blob) {
		n.sched.Unblock(dstPid)
		return
	}
	// Recv scans only channels keyed by the local node, so the decrypted
	// message is queued there rather than on the sender-node channel whose
	// secret authenticated it.
	n.graph.Enqueue(graph.ChannelKey{Src: srcPid, Dst: dstPid, Node: n.LocalNode()}, blob)
}

func isZeroSecret(secret [graph.SecretSize]byte) bool {
	for _, b := range secret {
		if b != 0 {
			return false
		}
	}
	return true
}

// peekPids extracts a frame's plaintext pid header, used to form the
// channel lookup key before the channel (and its secret) is known.
func peekPids(frame []byte) (src, dst int64, ok bool) {
	if len(frame) != FrameSize {
		return 0, 0, false
	}
	src = int64(binary.LittleEndian.Uint64(frame[0:8]))
	dst = int64(binary.LittleEndian.Uint64(frame[8:16]))
	return src, dst, true
}
