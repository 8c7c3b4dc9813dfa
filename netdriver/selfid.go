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

package netdriver

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// selfIdentify executes the self-identification algorithm (spec.md §4.2)
// once, when cfg.NodeID == 0: read a persisted id, else derive one from a
// MAC or IP, else hash the hostname; persist the chosen value if possible.
// The same inputs must produce the same output across restarts.
func selfIdentify(cfg Config) (uint64, error) {
	if cfg.NodeID != 0 {
		return cfg.NodeID, nil
	}

	if cfg.NodeIDDir != "" {
		if id, ok := readPersistedNodeID(cfg.NodeIDDir); ok {
			return id, nil
		}
	}

	id, err := deriveFromInterfaces()
	if err != nil {
		id = hashString(hostnameOrFallback())
	}

	if cfg.NodeIDDir != "" {
		persistNodeID(cfg.NodeIDDir, id)
	}
	return id, nil
}

func readPersistedNodeID(dir string) (uint64, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "node_id"))
	if err != nil {
		return 0, false
	}
	text := strings.TrimSpace(string(data))
	id, err := strconv.ParseUint(text, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// persistNodeID writes the chosen id atomically (write-temp-then-rename,
// spec.md §6) if the directory is writable. Failure to persist is not
// fatal: the value is still usable for this process lifetime.
func persistNodeID(dir string, id uint64) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	contents := []byte(strconv.FormatUint(id, 10) + "\n")
	_ = renameio.WriteFile(filepath.Join(dir, "node_id"), contents, 0o644)
}

// deriveFromInterfaces implements the "rolling polynomial hash over the
// first non-loopback interface's MAC, or its first IPv4 address" half of
// the algorithm.
func deriveFromInterfaces() (uint64, error) {
	ifaces, err := netInterfaces()
	if err != nil {
		return 0, errors.Wrap(err, "enumerate network interfaces")
	}

	var fallbackAddr string
	for _, iface := range ifaces {
		if iface.flags&ifaceUp == 0 || iface.flags&ifaceLoopback != 0 {
			continue
		}
		if len(iface.mac) > 0 {
			return rollingHash(iface.mac) & 0x7fffffffffffffff, nil
		}
		if fallbackAddr == "" && iface.ipv4 != "" {
			fallbackAddr = iface.ipv4
		}
	}
	if fallbackAddr != "" {
		return hashString(fallbackAddr), nil
	}
	return 0, errors.New("no usable non-loopback interface found")
}

func hostnameOrFallback() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "lattice-unknown-host"
	}
	return name
}

func hashString(s string) uint64 {
	return rollingHash([]byte(s)) & 0x7fffffffffffffff
}

// rollingHash computes a rolling polynomial hash with multiplier 131, as
// spec.md §4.2 mandates.
func rollingHash(b []byte) uint64 {
	var h uint64
	for _, c := range b {
		h = h*131 + uint64(c)
	}
	return h
}
