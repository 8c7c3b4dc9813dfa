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

// Package bridge adapts a byte stream (a local TCP or unix socket, latticec
// and latticed's actual job) onto a lattice channel. A Message's Payload is
// opaque to the IPC core (spec.md §3), so bridge owns the one framing this
// repo commits to: a one-byte length prefix followed by up to
// PayloadSize-1 data bytes, with a reserved length value marking the
// stream's end.
//
// Every bridged connection also runs a one-time key exchange over a fixed
// bootstrap channel (see ClientHandshake/ServerAcceptHandshake) before any
// application bytes move, since ipc.Node.Connect's built-in exchange only
// works when both keypairs are in the same process. latticed serves that
// bootstrap channel with one accept loop at a time, so handshakes across
// concurrently arriving client connections are serialized; each handshake
// is a handful of small messages, so this is not a meaningful bottleneck
// for the demo bridge.
package bridge

import "github.com/latticeos/lattice/ipc"

// chunkDataSize is the usable payload per Message once the length prefix
// is accounted for.
const chunkDataSize = ipc.PayloadSize - 1

// chunkClose is a length value no real chunk can have (chunkDataSize tops
// out at 63), reserved to mean "the stream that was writing to this
// channel is done."
const chunkClose = 0xFF

func encodeChunk(data []byte) ipc.Message {
	var msg ipc.Message
	if len(data) > chunkDataSize {
		data = data[:chunkDataSize]
	}
	msg.Payload[0] = byte(len(data))
	copy(msg.Payload[1:], data)
	return msg
}

func encodeCloseChunk() ipc.Message {
	var msg ipc.Message
	msg.Payload[0] = chunkClose
	return msg
}

// decodeChunk reports the data carried by msg, or closed == true if msg is
// the end-of-stream sentinel.
func decodeChunk(msg ipc.Message) (data []byte, closed bool) {
	n := msg.Payload[0]
	if n == chunkClose {
		return nil, true
	}
	if int(n) > chunkDataSize {
		n = chunkDataSize
	}
	return msg.Payload[1 : 1+n], false
}
