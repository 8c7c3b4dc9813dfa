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

package bridge

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/latticeos/lattice/ipc"
	"github.com/latticeos/lattice/pqcrypto"
	"github.com/pkg/errors"
)

// ClientBootstrapPid and ServerBootstrapPid are the fixed, reserved pids
// latticec and latticed exchange a handshake over before any session pid
// exists. ipc.Node.Connect's own key exchange (pqcrypto.ComputeSharedSecret)
// is a same-process stand-in that only works when both keypairs are
// already in scope, such as in tests; latticed and latticec are two
// separate processes, so they run a real two-party exchange instead,
// bootstrapped by the pre-shared key both sides are configured with
// (the same trust model the teacher's PBKDF2-derived block cipher key
// uses).
const (
	ClientBootstrapPid = int64(-1)
	ServerBootstrapPid = int64(-2)
)

// handshakeTimeout bounds how long a client waits for the server's
// handshake reply before giving up on that local connection.
const handshakeTimeout = 5 * time.Second

// ErrHandshakeFailed means a KEM encapsulation or decapsulation failed,
// reported as a distinguishable error here (unlike the wire protocol's
// frame decrypt, which drops silently per spec.md §7) since a failed
// handshake aborts one bridged connection outright.
var ErrHandshakeFailed = errors.New("bridge: key exchange failed")

// InstallBootstrapSecret seeds the bootstrap channel between this node and
// peerNode from the pre-shared key. latticed and latticec each call this
// once at startup, before running any handshake.
func InstallBootstrapSecret(n *ipc.Node, peerNode uint64, presharedKey string) {
	n.SetChannelSecret(ClientBootstrapPid, ServerBootstrapPid, peerNode, pqcrypto.BootstrapKey(presharedKey))
}

// ClientHandshake runs latticec's half of the handshake for one freshly
// accepted local connection: it generates an ephemeral Kyber-512 keypair,
// sends sessionPid and its public key to the server over the bootstrap
// channel, and decapsulates the server's reply into a channel secret. The
// caller still has to install that secret (Node.SetChannelSecret) on the
// real (sessionPid, serverPid, serverNode) channel before bridging.
func ClientHandshake(n *ipc.Node, sessionPid int64, serverNode uint64) (secret [pqcrypto.SecretSize]byte, err error) {
	kp, err := pqcrypto.GenerateKeypair()
	if err != nil {
		return secret, errors.Wrap(err, "generate ephemeral keypair")
	}

	hello := make([]byte, 8+pqcrypto.PublicKeySize)
	binary.LittleEndian.PutUint64(hello[:8], uint64(sessionPid))
	copy(hello[8:], kp.Public)

	conn := NewChannelConn(n, ClientBootstrapPid, ServerBootstrapPid, serverNode)
	if _, err := conn.Write(hello); err != nil {
		return secret, errors.Wrap(err, "send handshake hello")
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	ciphertext := make([]byte, pqcrypto.CiphertextSize)
	if _, err := io.ReadFull(conn, ciphertext); err != nil {
		return secret, errors.Wrap(err, "read handshake reply")
	}

	secret, ok := pqcrypto.Decapsulate(kp.Private, ciphertext)
	if !ok {
		return secret, ErrHandshakeFailed
	}
	return secret, nil
}

// ServerAcceptHandshake blocks until one client's handshake hello arrives
// over the bootstrap channel, encapsulates a reply against the client's
// public key, and returns the session pid the client chose along with the
// now-shared channel secret. The caller installs that secret on
// (sessionPid, serverPid, clientNode) before bridging. Concurrent callers
// would race on the single bootstrap channel, so a latticed process runs
// exactly one ServerAcceptHandshake loop at a time; see bridge's package
// doc.
func ServerAcceptHandshake(n *ipc.Node, clientNode uint64) (sessionPid int64, secret [pqcrypto.SecretSize]byte, err error) {
	conn := NewChannelConn(n, ServerBootstrapPid, ClientBootstrapPid, clientNode)

	hello := make([]byte, 8+pqcrypto.PublicKeySize)
	if _, err := io.ReadFull(conn, hello); err != nil {
		return 0, secret, errors.Wrap(err, "read handshake hello")
	}
	sessionPid = int64(binary.LittleEndian.Uint64(hello[:8]))
	clientPub := hello[8:]

	ciphertext, sec, ok := pqcrypto.Encapsulate(clientPub)
	if !ok {
		return 0, secret, ErrHandshakeFailed
	}

	if _, err := conn.Write(ciphertext); err != nil {
		return 0, secret, errors.Wrap(err, "send handshake reply")
	}
	return sessionPid, sec, nil
}
