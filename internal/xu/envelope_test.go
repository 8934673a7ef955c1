package xu

import (
	"testing"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	var sender peerid.ID
	for i := range sender {
		sender[i] = byte(i)
	}
	payload := []byte("hello overlay")

	frame, err := encodeFrame(sender, payload)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	msgType := uint16(frame[2])<<8 | uint16(frame[3])
	decoded, err := decodeFrame(msgType, frame[headerLen:])
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if decoded.Type != msgTypeXU {
		t.Fatalf("got type %d, want %d", decoded.Type, msgTypeXU)
	}
	if !decoded.Sender.Equal(sender) {
		t.Fatalf("sender mismatch: got %s, want %s", decoded.Sender, sender)
	}
	if string(decoded.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %q, want %q", decoded.Payload, payload)
	}
}

func TestDecodeFrameRejectsNonZeroReserved(t *testing.T) {
	var sender peerid.ID
	frame, err := encodeFrame(sender, []byte("x"))
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	frame[headerLen] = 0x01 // corrupt the reserved field

	_, err = decodeFrame(uint16(msgTypeXU), frame[headerLen:])
	if err == nil {
		t.Fatal("expected error for non-zero reserved field")
	}
}

func TestDecodeFrameRejectsShortBody(t *testing.T) {
	_, err := decodeFrame(uint16(msgTypeXU), []byte{0, 1, 2})
	if err == nil {
		t.Fatal("expected error for body shorter than envelope prefix")
	}
}
