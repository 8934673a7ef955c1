package peerid_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

func TestFromBytesRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, peerid.Size)

	id, err := peerid.FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}

	if !bytes.Equal(id.Bytes(), raw) {
		t.Fatalf("round trip mismatch: got %x want %x", id.Bytes(), raw)
	}
}

func TestFromBytesWrongLength(t *testing.T) {
	_, err := peerid.FromBytes([]byte{1, 2, 3})
	if !errors.Is(err, peerid.ErrWrongLength) {
		t.Fatalf("expected ErrWrongLength, got %v", err)
	}
}

func TestEqual(t *testing.T) {
	a, _ := peerid.FromBytes(bytes.Repeat([]byte{0x01}, peerid.Size))
	b, _ := peerid.FromBytes(bytes.Repeat([]byte{0x01}, peerid.Size))
	c, _ := peerid.FromBytes(bytes.Repeat([]byte{0x02}, peerid.Size))

	if !a.Equal(b) {
		t.Fatal("expected a == b")
	}
	if a.Equal(c) {
		t.Fatal("expected a != c")
	}
}

func TestIsZero(t *testing.T) {
	var zero peerid.ID
	if !zero.IsZero() {
		t.Fatal("zero-value ID should report IsZero")
	}

	nonZero, _ := peerid.FromBytes(bytes.Repeat([]byte{0x01}, peerid.Size))
	if nonZero.IsZero() {
		t.Fatal("non-zero ID should not report IsZero")
	}
}

func TestStringIsStable(t *testing.T) {
	id, _ := peerid.FromBytes(bytes.Repeat([]byte{0x00}, peerid.Size))
	if id.String() != id.String() {
		t.Fatal("String() must be deterministic")
	}
}
