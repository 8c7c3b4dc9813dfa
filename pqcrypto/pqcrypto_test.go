package pqcrypto

import (
	"bytes"
	"testing"
)

func TestComputeSharedSecretSymmetric(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}

	forward, ok := ComputeSharedSecret(alice, bob)
	if !ok {
		t.Fatalf("ComputeSharedSecret(alice, bob) failed")
	}
	backward, ok := ComputeSharedSecret(bob, alice)
	if !ok {
		t.Fatalf("ComputeSharedSecret(bob, alice) failed")
	}

	if forward != backward {
		t.Fatalf("shared secret not symmetric: %x != %x", forward, backward)
	}
}

func TestComputeSharedSecretRejectsMalformedKeys(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	truncated := KeyPair{Public: alice.Public[:len(alice.Public)-1], Private: alice.Private}

	if _, ok := ComputeSharedSecret(alice, truncated); ok {
		t.Fatalf("expected ComputeSharedSecret to reject a truncated public key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}
	secret, ok := ComputeSharedSecret(alice, bob)
	if !ok {
		t.Fatalf("ComputeSharedSecret failed")
	}

	cases := []struct {
		name string
		aad  []byte
		msg  []byte
	}{
		{"empty aad", nil, []byte("hello lattice")},
		{"pid aad", []byte("src-dst-pids"), bytes.Repeat([]byte{0x42}, 64)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var nonce [NonceSize]byte
			ciphertext, err := Seal(tc.msg, secret, nonce[:], tc.aad)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if len(ciphertext) != len(tc.msg)+Overhead {
				t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(tc.msg)+Overhead)
			}

			plaintext, ok := Open(ciphertext, secret, nonce[:], tc.aad)
			if !ok {
				t.Fatalf("Open failed on matching key/nonce/aad")
			}
			if !bytes.Equal(plaintext, tc.msg) {
				t.Fatalf("round trip mismatch: got %q want %q", plaintext, tc.msg)
			}
		})
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}
	secret, ok := ComputeSharedSecret(alice, bob)
	if !ok {
		t.Fatalf("ComputeSharedSecret failed")
	}

	var nonce [NonceSize]byte
	ciphertext, err := Seal([]byte("authentic"), secret, nonce[:], []byte("aad"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xFF

	if _, ok := Open(tampered, secret, nonce[:], []byte("aad")); ok {
		t.Fatalf("expected Open to reject a tampered ciphertext")
	}
	if _, ok := Open(ciphertext, secret, nonce[:], []byte("wrong-aad")); ok {
		t.Fatalf("expected Open to reject mismatched associated data")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate alice keypair: %v", err)
	}
	bob, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate bob keypair: %v", err)
	}
	carol, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate carol keypair: %v", err)
	}

	secretAB, ok := ComputeSharedSecret(alice, bob)
	if !ok {
		t.Fatalf("ComputeSharedSecret(alice, bob) failed")
	}
	secretAC, ok := ComputeSharedSecret(alice, carol)
	if !ok {
		t.Fatalf("ComputeSharedSecret(alice, carol) failed")
	}

	var nonce [NonceSize]byte
	ciphertext, err := Seal([]byte("for bob only"), secretAB, nonce[:], nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, ok := Open(ciphertext, secretAC, nonce[:], nil); ok {
		t.Fatalf("expected Open under carol's channel secret to fail")
	}
}
