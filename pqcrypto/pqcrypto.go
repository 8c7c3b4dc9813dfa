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

// Package pqcrypto implements the post-quantum key establishment and AEAD
// primitives consumed by every lattice channel: a Kyber-512 KEM keypair, a
// symmetric, order-independent secret derivation over two keypairs, and
// XChaCha20-Poly1305 seal/open for wire frames.
package pqcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SecretSize is the width of a derived channel secret, in bytes.
const SecretSize = 32

// NonceSize is the XChaCha20-Poly1305 nonce width.
const NonceSize = chacha20poly1305.NonceSizeX

// Overhead is the AEAD authentication tag size appended to every ciphertext.
const Overhead = chacha20poly1305.Overhead

// encapSeedSize is the seed width kyber512.EncapsulateTo requires for a
// deterministic encapsulation.
const encapSeedSize = 32

// PublicKeySize and CiphertextSize are Kyber-512's fixed wire sizes,
// re-exported so callers that need to frame a public key or a KEM
// ciphertext (e.g. a handshake message) don't import circl directly.
const (
	PublicKeySize  = kyber512.PublicKeySize
	CiphertextSize = kyber512.CiphertextSize
)

// KeyPair holds the packed bytes of a Kyber-512 public/private keypair.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKeypair produces a fresh Kyber-512 keypair seeded from the system
// CSPRNG.
func GenerateKeypair() (KeyPair, error) {
	return generateKeypair(rand.Reader)
}

func generateKeypair(src io.Reader) (KeyPair, error) {
	pk, sk, err := kyber512.GenerateKeyPair(src)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "generate kyber512 keypair")
	}

	pub := make([]byte, kyber512.PublicKeySize)
	pk.Pack(pub)
	priv := make([]byte, kyber512.PrivateKeySize)
	sk.Pack(priv)
	return KeyPair{Public: pub, Private: priv}, nil
}

// valid reports whether a keypair's components match Kyber-512's fixed
// sizes. A keypair failing this check must never be used to derive a
// channel secret; the spec requires the caller to refuse the channel.
func (kp KeyPair) valid() bool {
	return len(kp.Public) == kyber512.PublicKeySize && len(kp.Private) == kyber512.PrivateKeySize
}

func (kp KeyPair) unpack() (pub kyber512.PublicKey, priv kyber512.PrivateKey, err error) {
	if err := pub.Unpack(kp.Public); err != nil {
		return pub, priv, errors.Wrap(err, "unpack public key")
	}
	if err := priv.Unpack(kp.Private); err != nil {
		return pub, priv, errors.Wrap(err, "unpack private key")
	}
	return pub, priv, nil
}

// ComputeSharedSecret derives the 32-byte channel secret shared by two
// keypairs. It is symmetric: ComputeSharedSecret(a, b) ==
// ComputeSharedSecret(b, a) for any a, b, regardless of which is labeled
// "local". On any malformed input it returns ok == false so the caller
// refuses the channel rather than trust a zero-value secret.
func ComputeSharedSecret(local, peer KeyPair) (secret [SecretSize]byte, ok bool) {
	if !local.valid() || !peer.valid() {
		return secret, false
	}

	localPub, localPriv, err := local.unpack()
	if err != nil {
		return secret, false
	}
	peerPub, peerPriv, err := peer.unpack()
	if err != nil {
		return secret, false
	}

	// A real two-party handshake only ever has one private key on each
	// side; this routine is the same-process stand-in described in
	// spec.md §4.4.1, run once by whichever side calls lattice_connect, so
	// both private keys are in scope here. The seed is an
	// order-independent digest of both public keys, so the pair of
	// encapsulations below reproduce exactly regardless of which keypair
	// is passed as local and which as peer.
	seed := symmetricSeed(local.Public, peer.Public)

	ctToPeer := make([]byte, kyber512.CiphertextSize)
	ssToPeer := make([]byte, kyber512.SharedKeySize)
	peerPub.EncapsulateTo(ctToPeer, ssToPeer, seed)
	ssFromPeer := make([]byte, kyber512.SharedKeySize)
	peerPriv.DecapsulateTo(ssFromPeer, ctToPeer)

	ctToLocal := make([]byte, kyber512.CiphertextSize)
	ssToLocal := make([]byte, kyber512.SharedKeySize)
	localPub.EncapsulateTo(ctToLocal, ssToLocal, seed)
	ssFromLocal := make([]byte, kyber512.SharedKeySize)
	localPriv.DecapsulateTo(ssFromLocal, ctToLocal)

	if !bytesEqual(ssToPeer, ssFromPeer) || !bytesEqual(ssToLocal, ssFromLocal) {
		return secret, false
	}

	// XOR is commutative, so combining the two directions this way keeps
	// the whole derivation order-independent.
	combined := make([]byte, len(ssToPeer))
	for i := range combined {
		combined[i] = ssToPeer[i] ^ ssToLocal[i]
	}

	return whiten(combined), true
}

// Encapsulate performs one side of a real two-party KEM exchange: given a
// peer's packed Kyber-512 public key, it produces a ciphertext to send back
// to that peer and the channel secret this side has derived. Unlike
// ComputeSharedSecret (a same-process stand-in used where both keypairs are
// already in scope, such as tests), Encapsulate/Decapsulate only ever need
// one local keypair, so they are what cmd/latticed and cmd/latticec use to
// agree on a secret across the wire.
func Encapsulate(peerPublic []byte) (ciphertext []byte, secret [SecretSize]byte, ok bool) {
	if len(peerPublic) != kyber512.PublicKeySize {
		return nil, secret, false
	}
	var peerPub kyber512.PublicKey
	if err := peerPub.Unpack(peerPublic); err != nil {
		return nil, secret, false
	}

	seed := make([]byte, encapSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, secret, false
	}

	ct := make([]byte, kyber512.CiphertextSize)
	ss := make([]byte, kyber512.SharedKeySize)
	peerPub.EncapsulateTo(ct, ss, seed)
	return ct, whiten(ss), true
}

// Decapsulate completes the other side of the exchange Encapsulate started:
// given the local private key and the ciphertext the peer returned, it
// recovers the same channel secret Encapsulate derived.
func Decapsulate(priv []byte, ciphertext []byte) (secret [SecretSize]byte, ok bool) {
	if len(priv) != kyber512.PrivateKeySize || len(ciphertext) != kyber512.CiphertextSize {
		return secret, false
	}
	var sk kyber512.PrivateKey
	if err := sk.Unpack(priv); err != nil {
		return secret, false
	}

	ss := make([]byte, kyber512.SharedKeySize)
	sk.DecapsulateTo(ss, ciphertext)
	return whiten(ss), true
}

// BootstrapKey derives a secret from a pre-shared passphrase, the same
// pre-shared-secret model the teacher derives a kcp block cipher key from
// via PBKDF2. It seeds the one bootstrap channel each side uses to carry its
// ephemeral Kyber public key and KEM ciphertext before any session secret
// exists; it is never used to protect session payload.
func BootstrapKey(presharedKey string) [SecretSize]byte {
	return whiten([]byte(presharedKey))
}

// whiten runs HKDF-SHA256 over ikm to produce a uniformly-distributed
// channel secret, used both to combine ComputeSharedSecret's two
// encapsulations and to whiten Encapsulate/Decapsulate's raw shared keys.
func whiten(ikm []byte) [SecretSize]byte {
	var out [SecretSize]byte
	kdf := hkdf.New(sha256.New, ikm, nil, []byte("lattice-ipc channel secret v1"))
	_, _ = io.ReadFull(kdf, out[:])
	return out
}

// symmetricSeed derives a deterministic KEM encapsulation seed from two
// public keys, independent of argument order.
func symmetricSeed(pubA, pubB []byte) []byte {
	lo, hi := pubA, pubB
	if bytesLess(hi, lo) {
		lo, hi = hi, lo
	}
	kdf := hkdf.New(sha256.New, nil, nil, concatLabeled(lo, hi))
	seed := make([]byte, encapSeedSize)
	_, _ = io.ReadFull(kdf, seed)
	return seed
}

func concatLabeled(lo, hi []byte) []byte {
	label := []byte("lattice-ipc kem seed")
	out := make([]byte, 0, len(label)+len(lo)+len(hi))
	out = append(out, label...)
	out = append(out, lo...)
	out = append(out, hi...)
	return out
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Seal encrypts plaintext under key using a fresh random nonce, which is
// written into nonceOut (which must be NonceSize bytes long).
// additionalData is authenticated but not encrypted, used to bind a
// frame's src/dst pid fields to the ciphertext. The returned ciphertext is
// len(plaintext) + Overhead bytes.
func Seal(plaintext []byte, key [SecretSize]byte, nonceOut []byte, additionalData []byte) ([]byte, error) {
	if len(nonceOut) != NonceSize {
		return nil, errors.New("pqcrypto: nonce buffer has wrong size")
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "construct xchacha20-poly1305")
	}
	if _, err := io.ReadFull(rand.Reader, nonceOut); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return aead.Seal(nil, nonceOut, plaintext, additionalData), nil
}

// Open authenticates and decrypts ciphertext under key and nonce. A tag
// mismatch is reported via the boolean return rather than an error value,
// since callers on the receive path must treat it as a silently dropped
// packet (spec.md §7), not a distinguishable failure.
func Open(ciphertext []byte, key [SecretSize]byte, nonce []byte, additionalData []byte) (plaintext []byte, ok bool) {
	if len(nonce) != NonceSize {
		return nil, false
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, false
	}
	out, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, false
	}
	return out, true
}
