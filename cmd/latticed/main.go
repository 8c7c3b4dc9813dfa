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
	"io"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xtaci/qpp"

	"github.com/latticeos/lattice/bridge"
	"github.com/latticeos/lattice/ipc"
	"github.com/latticeos/lattice/netdriver"
	"github.com/latticeos/lattice/std"
)

const (
	// serverPid is the fixed pid latticed listens on for bridged session
	// traffic, analogous to the teacher's single well-known listen port.
	serverPid = int64(1)

	targetUnix = iota
	targetTCP
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "latticed"
	myApp.Usage = "lattice IPC bridge daemon"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "listen-port,l",
			Value: 29900,
			Usage: "UDP+TCP port this node binds",
		},
		cli.StringFlag{
			Name:  "target, t",
			Value: "127.0.0.1:12948",
			Usage: "target server address, or path/to/unix_socket",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secrect",
			Usage:  "pre-shared secret authenticating the bootstrap handshake",
			EnvVar: "LATTICE_KEY",
		},
		cli.StringFlag{
			Name:  "node-id",
			Value: "",
			Usage: "this node's identifier; empty auto-detects one",
		},
		cli.StringFlag{
			Name:  "remote-node",
			Value: "",
			Usage: "the one latticec peer's node identifier (required)",
		},
		cli.StringFlag{
			Name:  "remote-addr",
			Value: "",
			Usage: "the one latticec peer's host address (required)",
		},
		cli.IntFlag{
			Name:  "remote-port",
			Value: 29901,
			Usage: "the one latticec peer's UDP+TCP port",
		},
		cli.StringFlag{
			Name:  "proto",
			Value: "udp",
			Usage: "transport used to reach the peer: udp or tcp",
		},
		cli.BoolFlag{
			Name:  "QPP",
			Usage: "enable Quantum Permutation Pads(QPP) on the bridged stream",
		},
		cli.IntFlag{
			Name:  "QPPCount",
			Value: 61,
			Usage: "the prime number of pads to use for QPP",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable snappy compression of the bridged stream",
		},
		cli.IntFlag{
			Name:  "maxqueuelen",
			Value: 1024,
			Usage: "bound the receive queue; 0 means unbounded",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect IPC stats to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the 'session open/close' messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.ListenPort = c.Int("listen-port")
		config.Target = c.String("target")
		config.Key = c.String("key")
		config.NodeID = c.String("node-id")
		config.RemoteNode = c.String("remote-node")
		config.RemoteAddr = c.String("remote-addr")
		config.RemotePort = c.Int("remote-port")
		config.Proto = c.String("proto")
		config.QPP = c.Bool("QPP")
		config.QPPCount = c.Int("QPPCount")
		config.NoComp = c.Bool("nocomp")
		config.MaxQueueLen = c.Int("maxqueuelen")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")
		config.Pprof = c.Bool("pprof")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			checkError(parseJSONConfig(&config, c.String("c")))
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		if config.RemoteNode == "" || config.RemoteAddr == "" {
			log.Fatal("remote-node and remote-addr are required: latticed bridges exactly one configured latticec peer")
		}
		remoteNode, err := strconv.ParseUint(config.RemoteNode, 10, 64)
		checkError(err)
		nodeID, err := parseNodeID(config.NodeID)
		checkError(err)

		log.Println("version:", VERSION)
		log.Println("listen port:", config.ListenPort)
		log.Println("target:", config.Target)
		log.Println("remote node:", remoteNode, "at", config.RemoteAddr, config.RemotePort, config.Proto)
		log.Println("compression:", !config.NoComp)
		log.Println("QPP:", config.QPP)
		log.Println("statslog:", config.StatsLog)
		log.Println("pprof:", config.Pprof)

		if config.QPP {
			warnings, err := std.ValidateQPPParams(config.QPPCount, config.Key)
			checkError(err)
			for _, w := range warnings {
				color.Red(w)
			}
		}

		driverCfg := netdriver.Config{
			NodeID:         nodeID,
			Port:           uint16(config.ListenPort),
			MaxQueueLength: config.MaxQueueLen,
			Overflow:       netdriver.DropOldest,
			NodeIDDir:      ".",
		}
		n, err := ipc.NewNode(driverCfg, nil)
		checkError(err)
		log.Println("local node:", n.LocalNode())

		proto := netdriver.UDP
		if config.Proto == "tcp" {
			proto = netdriver.TCP
		}
		checkError(n.AddRemote(remoteNode, config.RemoteAddr, uint16(config.RemotePort), proto))

		bridge.InstallBootstrapSecret(n, remoteNode, config.Key)

		go std.StatsLogger(config.StatsLog, config.StatsPeriod, std.DefaultStats)
		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		var pad *qpp.QuantumPermutationPad
		if config.QPP {
			pad = qpp.NewQPP([]byte(config.Key), uint16(config.QPPCount))
		}

		for {
			sessionPid, secret, err := bridge.ServerAcceptHandshake(n, remoteNode)
			if err != nil {
				log.Println("handshake:", err)
				continue
			}
			n.SetChannelSecret(sessionPid, serverPid, remoteNode, secret)
			go handleSession(n, sessionPid, remoteNode, pad, &config)
		}
	}
	myApp.Run(os.Args)
}

// handleSession dials the configured target and bridges it to the session
// pid a handshake just established, the way the teacher's handleMux dials
// config.Target per accepted smux stream.
func handleSession(n *ipc.Node, sessionPid int64, remoteNode uint64, pad *qpp.QuantumPermutationPad, config *Config) {
	logln := func(v ...any) {
		if !config.Quiet {
			log.Println(v...)
		}
	}

	targetKind := targetTCP
	if _, _, err := net.SplitHostPort(config.Target); err != nil {
		targetKind = targetUnix
	}

	var p2 net.Conn
	var err error
	if targetKind == targetUnix {
		p2, err = net.Dial("unix", config.Target)
	} else {
		p2, err = net.Dial("tcp", config.Target)
	}
	if err != nil {
		log.Println(err)
		return
	}
	defer p2.Close()

	var s1 io.ReadWriteCloser = bridge.NewChannelConn(n, serverPid, sessionPid, remoteNode)
	if pad != nil {
		s1 = std.NewQPPPort(s1, pad, []byte(config.Key))
	}
	var s2 io.ReadWriteCloser = p2
	if !config.NoComp {
		s2 = std.NewCompStream(p2)
	}

	logln("session opened", "pid:", sessionPid, "target:", config.Target)
	defer logln("session closed", "pid:", sessionPid, "target:", config.Target)

	err1, err2 := std.Pipe(s1, s2)
	if err1 != nil && err1 != io.EOF {
		logln("pipe:", err1, "pid:", sessionPid)
	}
	if err2 != nil && err2 != io.EOF {
		logln("pipe:", err2, "pid:", sessionPid)
	}
}

func parseNodeID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
