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

package main

import (
	"encoding/json"
	"os"
)

// Config for latticed: a lattice node that bridges one remote latticec's
// session traffic to a local TCP/unix target. An empty NodeID means
// "auto-detect this node"; RemoteNode and RemoteAddr are required, since
// latticed only replies to its one configured peer (spec.md §4.2's
// AddRemote is an explicit registration, not address learning).
type Config struct {
	ListenPort  int    `json:"listen_port"`
	Target      string `json:"target"`
	Key         string `json:"key"`
	NodeID      string `json:"node_id"`
	RemoteNode  string `json:"remote_node"`
	RemoteAddr  string `json:"remote_addr"`
	RemotePort  int    `json:"remote_port"`
	Proto       string `json:"proto"`
	NoComp      bool   `json:"nocomp"`
	QPP         bool   `json:"qpp"`
	QPPCount    int    `json:"qpp_count"`
	MaxQueueLen int    `json:"max_queue_len"`
	Log         string `json:"log"`
	StatsLog    string `json:"statslog"`
	StatsPeriod int    `json:"statsperiod"`
	Pprof       bool   `json:"pprof"`
	Quiet       bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
