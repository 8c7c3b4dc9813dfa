package std

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
)

func TestCompStreamRoundTrip(t *testing.T) {
	left, right := net.Pipe()
	writer := NewCompStream(left)
	reader := NewCompStream(right)
	t.Cleanup(func() {
		writer.Close()
		reader.Close()
	})

	payload := bytes.Repeat([]byte("lattice bridge payload"), 64)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(reader, buf); err != nil {
			readErr <- fmt.Errorf("read compressed data: %w", err)
			return
		}
		if !bytes.Equal(buf, payload) {
			readErr <- fmt.Errorf("payload mismatch after round trip")
			return
		}
		readErr <- nil
	}()

	if n, err := writer.Write(append([]byte(nil), payload...)); err != nil {
		t.Fatalf("Write: %v", err)
	} else if n != len(payload) {
		t.Fatalf("Write returned %d, want %d", n, len(payload))
	}

	if err := <-readErr; err != nil {
		t.Fatalf("reader: %v", err)
	}
}

func TestCompStreamPreservesFixedChunkBoundaries(t *testing.T) {
	// latticed/latticec chunk the decompressed application stream into
	// fixed PayloadSize pieces before sealing each into a frame; a
	// short write below chunk size must still arrive intact and in one
	// piece, not merged with a later write.
	left, right := net.Pipe()
	writer := NewCompStream(left)
	reader := NewCompStream(right)
	t.Cleanup(func() {
		writer.Close()
		reader.Close()
	})

	chunks := [][]byte{
		bytes.Repeat([]byte{0x01}, 17),
		bytes.Repeat([]byte{0x02}, 64),
	}

	done := make(chan error, 1)
	go func() {
		for _, want := range chunks {
			got := make([]byte, len(want))
			if _, err := io.ReadFull(reader, got); err != nil {
				done <- fmt.Errorf("read chunk: %w", err)
				return
			}
			if !bytes.Equal(got, want) {
				done <- fmt.Errorf("chunk mismatch: got %x want %x", got, want)
				return
			}
		}
		done <- nil
	}()

	for _, chunk := range chunks {
		if _, err := writer.Write(chunk); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("round trip: %v", err)
	}
}
