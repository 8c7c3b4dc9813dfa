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
	"sync/atomic"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xtaci/qpp"

	"github.com/latticeos/lattice/bridge"
	"github.com/latticeos/lattice/ipc"
	"github.com/latticeos/lattice/netdriver"
	"github.com/latticeos/lattice/std"
)

// serverPid is the fixed pid latticed listens on, mirrored here so a
// client can address its handshake and bridged traffic at it.
const serverPid = int64(1)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// nextSessionPid hands out one pid per accepted local connection. It starts
// well above serverPid and the bootstrap pids (-1, -2) so no session ever
// collides with either.
var nextSessionPid = int64(1000)

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "latticec"
	myApp.Usage = "lattice IPC bridge client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "localaddr,l",
			Value: "127.0.0.1:12948",
			Usage: "local listen address, or path/to/unix_socket",
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
		cli.IntFlag{
			Name:  "listen-port",
			Value: 29901,
			Usage: "UDP+TCP port this node binds",
		},
		cli.StringFlag{
			Name:  "remote-node",
			Value: "",
			Usage: "the one latticed peer's node identifier (required)",
		},
		cli.StringFlag{
			Name:  "remote-addr",
			Value: "",
			Usage: "the one latticed peer's host address (required)",
		},
		cli.IntFlag{
			Name:  "remote-port",
			Value: 29900,
			Usage: "the one latticed peer's UDP+TCP port",
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
			Usage: "start profiling server on :6061",
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
		config.LocalAddr = c.String("localaddr")
		config.Key = c.String("key")
		config.NodeID = c.String("node-id")
		config.ListenPort = c.Int("listen-port")
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
			log.Fatal("remote-node and remote-addr are required: latticec bridges to exactly one configured latticed peer")
		}
		remoteNode, err := strconv.ParseUint(config.RemoteNode, 10, 64)
		checkError(err)
		nodeID, err := parseNodeID(config.NodeID)
		checkError(err)

		log.Println("version:", VERSION)
		log.Println("local address:", config.LocalAddr)
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
			go http.ListenAndServe(":6061", nil)
		}

		var pad *qpp.QuantumPermutationPad
		if config.QPP {
			pad = qpp.NewQPP([]byte(config.Key), uint16(config.QPPCount))
		}

		listenKind := "tcp"
		if _, _, err := net.SplitHostPort(config.LocalAddr); err != nil {
			listenKind = "unix"
		}
		lis, err := net.Listen(listenKind, config.LocalAddr)
		checkError(err)
		log.Println("listening on:", lis.Addr())

		for {
			conn, err := lis.Accept()
			if err != nil {
				log.Println(err)
				continue
			}
			go handleClient(n, conn, remoteNode, pad, &config)
		}
	}
	myApp.Run(os.Args)
}

// handleClient runs a fresh bootstrap handshake for conn, then bridges it
// against the session pid that handshake establishes, the way the
// teacher's handleClient dials a new smux stream per accepted connection.
func handleClient(n *ipc.Node, conn net.Conn, remoteNode uint64, pad *qpp.QuantumPermutationPad, config *Config) {
	defer conn.Close()

	logln := func(v ...any) {
		if !config.Quiet {
			log.Println(v...)
		}
	}

	sessionPid := atomic.AddInt64(&nextSessionPid, 1)

	secret, err := bridge.ClientHandshake(n, sessionPid, remoteNode)
	if err != nil {
		log.Println("handshake:", err)
		return
	}
	n.SetChannelSecret(sessionPid, serverPid, remoteNode, secret)

	var s1 io.ReadWriteCloser = bridge.NewChannelConn(n, sessionPid, serverPid, remoteNode)
	if pad != nil {
		s1 = std.NewQPPPort(s1, pad, []byte(config.Key))
	}
	var s2 io.ReadWriteCloser = conn
	if !config.NoComp {
		s2 = std.NewCompStream(conn)
	}

	logln("session opened", "pid:", sessionPid, "remote:", conn.RemoteAddr())
	defer logln("session closed", "pid:", sessionPid, "remote:", conn.RemoteAddr())

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
