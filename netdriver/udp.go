package netdriver

import (
	"net"
	"sync"

	"github.com/latticeos/lattice/generic"
	"github.com/pkg/errors"
)

// udpTransport implements generic.Transport over a single dual-stack UDP
// socket. Peers are recorded by address only; spec.md §4.2 says UDP
// registration "records only the address," no handshake.
type udpTransport struct {
	conn *net.UDPConn

	mu       sync.RWMutex
	peers    map[uint64]*net.UDPAddr
	byAddr   map[string]uint64
	callback func(generic.Packet)

	closeOnce sync.Once
	closed    chan struct{}
}

func newUDPTransport(port uint16) (*udpTransport, error) {
	addr := &net.UDPAddr{Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "bind UDP socket")
	}
	t := &udpTransport{
		conn:   conn,
		peers:  make(map[uint64]*net.UDPAddr),
		byAddr: make(map[string]uint64),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *udpTransport) Register(node uint64, host string, port uint16) error {
	resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, portString(port)))
	if err != nil {
		return errors.Wrap(err, "resolve UDP peer address")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[node] = resolved
	t.byAddr[resolved.String()] = node
	return nil
}

func (t *udpTransport) Send(node uint64, payload []byte) error {
	t.mu.RLock()
	addr, ok := t.peers[node]
	t.mu.RUnlock()
	if !ok {
		return errors.Errorf("netdriver: no UDP peer registered for node %d", node)
	}
	_, err := t.conn.WriteToUDP(payload, addr)
	if err != nil {
		return errors.Wrap(err, "udp write")
	}
	return nil
}

func (t *udpTransport) SetRecvCallback(cb func(generic.Packet)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

func (t *udpTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *udpTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return t.conn.Close()
}

func (t *udpTransport) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}

		t.mu.RLock()
		node, known := t.byAddr[addr.String()]
		cb := t.callback
		t.mu.RUnlock()
		if !known {
			continue // unknown sender, dropped per spec.md §4.2
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		if cb != nil {
			cb(generic.Packet{SrcNode: node, Payload: payload})
		}
	}
}
