//go:build latticetest

package pqcrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// GenerateKeypairForTest derives a deterministic Kyber-512 keypair from an
// arbitrary-length seed. It exists only so test suites can assert
// reproducible handshakes and round trips without depending on
// crypto/rand; it is excluded from production builds by the latticetest
// build tag (spec.md §4.1).
func GenerateKeypairForTest(seed []byte) (KeyPair, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, seed, nil, []byte("lattice-ipc deterministic test keypair"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return KeyPair{}, err
	}

	var nonce [chacha20.NonceSize]byte
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
	if err != nil {
		return KeyPair{}, err
	}
	return generateKeypair(&cipherReader{stream: stream})
}

// cipherReader adapts a chacha20 keystream into an io.Reader of
// deterministic "random" bytes for key generation.
type cipherReader struct {
	stream *chacha20.Cipher
}

func (c *cipherReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	c.stream.XORKeyStream(p, p)
	return len(p), nil
}
