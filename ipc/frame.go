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

	"github.com/latticeos/lattice/pqcrypto"
	"github.com/pkg/errors"
)

// PayloadSize is the fixed width of a Message's opaque content, chosen
// once and committed to for this build (spec.md §3: "the implementation
// must pick one and commit to it").
const PayloadSize = 64

// pidFieldSize is the width of each pid field in a wire frame.
const pidFieldSize = 8

// FrameSize is the total size of an on-wire packet: two 8-byte pid
// fields, a 24-byte nonce, and the AEAD-sealed payload with its 16-byte
// tag (spec.md §3).
const FrameSize = 2*pidFieldSize + pqcrypto.NonceSize + PayloadSize + pqcrypto.Overhead

// Message is the fixed-size record carried end to end. Content is opaque
// to the IPC core (spec.md §3); Source is the only field the core reads
// or writes, stamped on every successful delivery.
type Message struct {
	Source  int64
	Payload [PayloadSize]byte
}

// encodeFrame seals msg.Payload under key with a fresh nonce and builds
// the on-wire packet: [src_pid][dst_pid][nonce][ciphertext]. src and dst
// are bound as AEAD associated data so a tampered pid pair fails
// authentication even though the pids themselves travel in the clear.
func encodeFrame(src, dst int64, payload [PayloadSize]byte, key [pqcrypto.SecretSize]byte) ([]byte, error) {
	frame := make([]byte, FrameSize)
	binary.LittleEndian.PutUint64(frame[0:8], uint64(src))
	binary.LittleEndian.PutUint64(frame[8:16], uint64(dst))

	nonce := frame[16 : 16+pqcrypto.NonceSize]
	aad := frame[0:16]
	ciphertext, err := pqcrypto.Seal(payload[:], key, nonce, aad)
	if err != nil {
		return nil, errors.Wrap(err, "seal frame")
	}
	copy(frame[16+pqcrypto.NonceSize:], ciphertext)
	return frame, nil
}

// decodeFrame validates frame's length, extracts its fields, and opens
// its ciphertext under key. A length or authentication failure reports
// ok == false so the caller drops the packet silently (spec.md §7).
func decodeFrame(frame []byte, key [pqcrypto.SecretSize]byte) (src, dst int64, payload [PayloadSize]byte, ok bool) {
	if len(frame) != FrameSize {
		return 0, 0, payload, false
	}

	src = int64(binary.LittleEndian.Uint64(frame[0:8]))
	dst = int64(binary.LittleEndian.Uint64(frame[8:16]))
	nonce := frame[16 : 16+pqcrypto.NonceSize]
	aad := frame[0:16]
	ciphertext := frame[16+pqcrypto.NonceSize:]

	plaintext, opened := pqcrypto.Open(ciphertext, key, nonce, aad)
	if !opened || len(plaintext) != PayloadSize {
		return 0, 0, payload, false
	}
	copy(payload[:], plaintext)
	return src, dst, payload, true
}
