package netdriver

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/latticeos/lattice/generic"
	"github.com/pkg/errors"
)

// tcpTransport implements generic.Transport over persistent, length-prefixed
// TCP streams (4-byte big-endian length prefix per frame, spec.md §4.2/§6).
// For TCP, Register opens (and keeps open) the connection immediately; a
// background accept loop also serves peers that dial us, matched back to a
// registered node by host (ignoring the ephemeral source port, since a
// peer's outbound port rarely matches the port it is registered under).
type tcpTransport struct {
	listener *net.TCPListener

	mu       sync.RWMutex
	conns    map[uint64]net.Conn
	addrs    map[uint64]string
	hostNode map[string]uint64
	callback func(generic.Packet)

	closeOnce sync.Once
	closed    chan struct{}
}

func newTCPTransport(port uint16) (*tcpTransport, error) {
	addr := &net.TCPAddr{Port: int(port)}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "bind TCP socket")
	}
	t := &tcpTransport{
		listener: ln,
		conns:    make(map[uint64]net.Conn),
		addrs:    make(map[uint64]string),
		hostNode: make(map[string]uint64),
		closed:   make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *tcpTransport) Register(node uint64, host string, port uint16) error {
	addr := net.JoinHostPort(host, portString(port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial TCP peer")
	}

	t.mu.Lock()
	if old, ok := t.conns[node]; ok {
		old.Close()
	}
	t.conns[node] = conn
	t.addrs[node] = addr
	t.hostNode[host] = node
	t.mu.Unlock()

	go t.readFrames(node, conn)
	return nil
}

// Send transmits payload to node's registered connection. Per spec.md's
// documented TCP failure semantics, a disconnected registration (one whose
// connection was closed by a prior receive or send error) is not deleted:
// the next Send redials once, using the address recorded at Register time,
// to restore the registration for subsequent sends — but this call still
// reports failure, since the redial has not yet proven the new connection
// usable.
func (t *tcpTransport) Send(node uint64, payload []byte) error {
	t.mu.RLock()
	conn, ok := t.conns[node]
	t.mu.RUnlock()
	if !ok {
		if _, reconnected := t.reconnect(node); reconnected {
			return errors.Errorf("netdriver: node %d was disconnected, reconnect attempted", node)
		}
		return errors.Errorf("netdriver: no TCP peer registered for node %d", node)
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := conn.Write(frame); err != nil {
		t.disconnect(node)
		t.reconnect(node)
		return errors.Wrap(err, "tcp write")
	}
	return nil
}

// reconnect redials the address recorded for node at Register time and, on
// success, installs the new connection and starts reading frames from it.
// It reports ok == false if node was never registered.
func (t *tcpTransport) reconnect(node uint64) (net.Conn, bool) {
	t.mu.RLock()
	addr, known := t.addrs[node]
	t.mu.RUnlock()
	if !known {
		return nil, false
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, false
	}

	t.mu.Lock()
	t.conns[node] = conn
	t.mu.Unlock()

	go t.readFrames(node, conn)
	return conn, true
}

func (t *tcpTransport) disconnect(node uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[node]; ok {
		conn.Close()
		delete(t.conns, node)
	}
}

func (t *tcpTransport) SetRecvCallback(cb func(generic.Packet)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

func (t *tcpTransport) LocalAddr() net.Addr {
	return t.listener.Addr()
}

func (t *tcpTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	t.mu.Lock()
	for _, conn := range t.conns {
		conn.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}

func (t *tcpTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				continue
			}
		}

		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			conn.Close()
			continue
		}
		t.mu.RLock()
		node, known := t.hostNode[host]
		t.mu.RUnlock()
		if !known {
			conn.Close() // unknown sender, dropped per spec.md §4.2
			continue
		}
		go t.readFrames(node, conn)
	}
}

func (t *tcpTransport) readFrames(node uint64, conn net.Conn) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			t.disconnect(node)
			return
		}
		length := binary.BigEndian.Uint32(header)
		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			t.disconnect(node)
			return
		}

		t.mu.RLock()
		cb := t.callback
		t.mu.RUnlock()
		if cb != nil {
			cb(generic.Packet{SrcNode: node, Payload: payload})
		}
	}
}

func portString(port uint16) string {
	return strconv.Itoa(int(port))
}
