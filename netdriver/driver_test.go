package netdriver

import (
	"net"
	"testing"
	"time"
)

func TestDriverUDPRoundTrip(t *testing.T) {
	p, err := Init(Config{NodeID: 1, Port: 0})
	if err != nil {
		t.Fatalf("Init(p): %v", err)
	}
	defer p.Shutdown()
	c, err := Init(Config{NodeID: 2, Port: 0})
	if err != nil {
		t.Fatalf("Init(c): %v", err)
	}
	defer c.Shutdown()

	pPort := udpPort(t, p)
	cPort := udpPort(t, c)

	if err := p.AddRemote(2, "127.0.0.1", cPort, UDP); err != nil {
		t.Fatalf("p.AddRemote: %v", err)
	}
	if err := c.AddRemote(1, "127.0.0.1", pPort, UDP); err != nil {
		t.Fatalf("c.AddRemote: %v", err)
	}

	if err := p.Send(2, []byte("hello from p")); err != nil {
		t.Fatalf("p.Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pkt, ok := c.Recv(); ok {
			if string(pkt.Payload) != "hello from p" {
				t.Fatalf("received payload %q, want %q", pkt.Payload, "hello from p")
			}
			if pkt.SrcNode != 1 {
				t.Fatalf("received SrcNode = %d, want 1", pkt.SrcNode)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("c never received p's packet within 2s")
}

func TestDriverLocalNodeNonZeroAfterAutoDetect(t *testing.T) {
	p, err := Init(Config{NodeID: 0, Port: 0, NodeIDDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Init(p): %v", err)
	}
	defer p.Shutdown()
	c, err := Init(Config{NodeID: 0, Port: 0, NodeIDDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Init(c): %v", err)
	}
	defer c.Shutdown()

	if p.LocalNode() == 0 || c.LocalNode() == 0 {
		t.Fatalf("LocalNode must never be zero after init")
	}
}

func TestDriverSendToUnregisteredNodeFails(t *testing.T) {
	d, err := Init(Config{NodeID: 1, Port: 0})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer d.Shutdown()

	if err := d.Send(99, []byte("x")); err == nil {
		t.Fatalf("expected Send to an unregistered node to fail")
	}
}

func TestSimulateSocketFailureCausesSendError(t *testing.T) {
	p, err := Init(Config{NodeID: 1, Port: 0})
	if err != nil {
		t.Fatalf("Init(p): %v", err)
	}
	c, err := Init(Config{NodeID: 2, Port: 0})
	if err != nil {
		t.Fatalf("Init(c): %v", err)
	}
	defer c.Shutdown()

	if err := p.AddRemote(2, "127.0.0.1", udpPort(t, c), UDP); err != nil {
		t.Fatalf("AddRemote: %v", err)
	}
	p.SimulateSocketFailure()

	if err := p.Send(2, []byte("x")); err == nil {
		t.Fatalf("expected Send to fail after SimulateSocketFailure")
	}
}

func udpPort(t *testing.T, d *Driver) uint16 {
	t.Helper()
	addr, ok := d.udp.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("unexpected UDP LocalAddr type %T", d.udp.LocalAddr())
	}
	return uint16(addr.Port)
}
