package bridge

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/latticeos/lattice/ipc"
	"github.com/latticeos/lattice/netdriver"
)

func newTestNode(t *testing.T, id uint64) *ipc.Node {
	t.Helper()
	n, err := ipc.NewNode(netdriver.Config{NodeID: id, Port: 0, NodeIDDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	t.Cleanup(n.Shutdown)
	return n
}

func udpPort(t *testing.T, n *ipc.Node) uint16 {
	t.Helper()
	addr, ok := n.UDPLocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("unexpected UDP local addr type %T", n.UDPLocalAddr())
	}
	return uint16(addr.Port)
}

// pairNodes wires two Nodes as each other's UDP remote, the way latticed
// and latticec discover one another from CLI-configured host/port pairs.
func pairNodes(t *testing.T) (client, server *ipc.Node) {
	t.Helper()
	client = newTestNode(t, 10)
	server = newTestNode(t, 20)

	if err := client.AddRemote(server.LocalNode(), "127.0.0.1", udpPort(t, server), netdriver.UDP); err != nil {
		t.Fatalf("client.AddRemote: %v", err)
	}
	if err := server.AddRemote(client.LocalNode(), "127.0.0.1", udpPort(t, client), netdriver.UDP); err != nil {
		t.Fatalf("server.AddRemote: %v", err)
	}
	return client, server
}

func waitUntil(t *testing.T, timeout time.Duration, poll func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if poll() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestChunkRoundTrip(t *testing.T) {
	data := []byte("hello lattice bridge")
	msg := encodeChunk(data)
	got, closed := decodeChunk(msg)
	if closed {
		t.Fatal("decodeChunk reported closed for a data chunk")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("decodeChunk = %q, want %q", got, data)
	}
}

func TestChunkCloseSentinel(t *testing.T) {
	_, closed := decodeChunk(encodeCloseChunk())
	if !closed {
		t.Fatal("decodeChunk did not report the close sentinel as closed")
	}
}

func TestHandshakeAgreesOnSecret(t *testing.T) {
	client, server := pairNodes(t)

	InstallBootstrapSecret(server, client.LocalNode(), "demo-preshared-key")
	InstallBootstrapSecret(client, server.LocalNode(), "demo-preshared-key")

	type result struct {
		sessionPid int64
		secret     [32]byte
		err        error
	}
	serverDone := make(chan result, 1)
	go func() {
		pollUntilDone := make(chan struct{})
		go func() {
			for {
				select {
				case <-pollUntilDone:
					return
				default:
					server.PollNetwork()
					time.Sleep(2 * time.Millisecond)
				}
			}
		}()
		sessionPid, secret, err := ServerAcceptHandshake(server, client.LocalNode())
		close(pollUntilDone)
		serverDone <- result{sessionPid, secret, err}
	}()

	stopClientPoll := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopClientPoll:
				return
			default:
				client.PollNetwork()
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	defer close(stopClientPoll)

	clientSecret, err := ClientHandshake(client, 42, server.LocalNode())
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}

	var res result
	select {
	case res = <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("ServerAcceptHandshake did not complete")
	}
	if res.err != nil {
		t.Fatalf("ServerAcceptHandshake: %v", res.err)
	}
	if res.sessionPid != 42 {
		t.Fatalf("sessionPid = %d, want 42", res.sessionPid)
	}
	if res.secret != clientSecret {
		t.Fatal("client and server derived different secrets")
	}
}

func TestChannelConnBridgesApplicationBytes(t *testing.T) {
	client, server := pairNodes(t)

	const sessionPid, serverPid = int64(100), int64(1)
	var secret [32]byte
	secret[0] = 0xAB
	client.SetChannelSecret(sessionPid, serverPid, server.LocalNode(), secret)
	server.SetChannelSecret(sessionPid, serverPid, client.LocalNode(), secret)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				client.PollNetwork()
				server.PollNetwork()
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	defer close(stop)

	clientConn := NewChannelConn(client, sessionPid, serverPid, server.LocalNode())
	serverConn := NewChannelConn(server, serverPid, sessionPid, client.LocalNode())

	payload := []byte("GET / HTTP/1.1\r\n\r\n")
	if _, err := clientConn.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, len(payload))
	var n int
	ok := waitUntil(t, time.Second, func() bool {
		got, err := serverConn.Read(buf[n:])
		if err != nil {
			return false
		}
		n += got
		return n >= len(payload)
	})
	if !ok {
		t.Fatalf("did not receive full payload, got %d/%d bytes", n, len(payload))
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("received %q, want %q", buf, payload)
	}

	if err := clientConn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	closed := waitUntil(t, time.Second, func() bool {
		one := make([]byte, 1)
		_, err := serverConn.Read(one)
		return err != nil
	})
	if !closed {
		t.Fatal("server side never observed the close chunk")
	}
}
