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

// Package netdriver implements the network driver (component C2): a
// dual-stack UDP+TCP transport with a bounded receive queue, configurable
// overflow policy, stable self-identification, and an optional
// post-AEAD obfuscation layer.
package netdriver

import "github.com/latticeos/lattice/generic"

// OverflowPolicy re-exports generic.OverflowPolicy so callers configuring
// a Driver do not need to import the generic package directly.
type OverflowPolicy = generic.OverflowPolicy

const (
	DropNewest = generic.DropNewest
	DropOldest = generic.DropOldest
)

// Protocol re-exports generic.Protocol.
type Protocol = generic.Protocol

const (
	UDP = generic.UDP
	TCP = generic.TCP
)

// QPPConfig enables the optional quantum-permutation-pad hardening layer
// applied on top of already AEAD-sealed frames.
type QPPConfig struct {
	Enabled bool
	Key     string
	Count   int
}

// Config is the network driver's configuration (spec.md §4.2).
type Config struct {
	// NodeID is the preferred local identifier. Zero triggers
	// auto-detection.
	NodeID uint64
	// Port is the 16-bit UDP+TCP port to bind.
	Port uint16
	// MaxQueueLength bounds the receive queue; zero means unbounded.
	MaxQueueLength int
	// Overflow selects the eviction policy once MaxQueueLength is
	// reached.
	Overflow OverflowPolicy
	// NodeIDDir is the filesystem directory used to persist an
	// auto-detected node id.
	NodeIDDir string
	// QPP optionally hardens every outgoing/incoming frame with a
	// quantum permutation pad, applied after AEAD sealing.
	QPP QPPConfig
}
