package wlan

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

func testPeer(tag byte) peerid.ID {
	var id peerid.ID
	id[0] = tag
	return id
}

func TestEncodeDecodeDataFrameRoundTrip(t *testing.T) {
	target := testPeer(0xAB)
	payload := []byte("small wlan payload")

	frame, err := encodeDataFrame(target, payload)
	if err != nil {
		t.Fatalf("encodeDataFrame: %v", err)
	}

	h, got, err := decodeDataFrame(frame)
	if err != nil {
		t.Fatalf("decodeDataFrame: %v", err)
	}
	if h.Target != target {
		t.Fatalf("got target %v, want %v", h.Target, target)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got payload %q, want %q", got, payload)
	}
}

func TestEncodeDataFrameRejectsOversizePayload(t *testing.T) {
	_, err := encodeDataFrame(testPeer(1), make([]byte, wlanMTU))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeDataFrameDetectsCRCCorruption(t *testing.T) {
	frame, err := encodeDataFrame(testPeer(2), []byte("hello"))
	if err != nil {
		t.Fatalf("encodeDataFrame: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF

	if _, _, err := decodeDataFrame(frame); !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("got %v, want ErrCRCMismatch", err)
	}
}

func TestSplitAndReassembleFragments(t *testing.T) {
	target := testPeer(3)
	payload := bytes.Repeat([]byte("x"), maxFragmentPayload*3+17)
	blob := buildWlanBlob(target, payload)

	pieces := splitIntoFragments(blob)
	if len(pieces) != 4 {
		t.Fatalf("got %d pieces, want 4", len(pieces))
	}

	reassembled := make([]byte, 0, len(blob))
	for i, piece := range pieces {
		frame := encodeFragment(42, uint16(i), piece)
		h, slice, err := decodeFragment(frame)
		if err != nil {
			t.Fatalf("decodeFragment[%d]: %v", i, err)
		}
		if h.MessageID != 42 || h.FragmentIndex != uint16(i) {
			t.Fatalf("fragment %d: got header %+v", i, h)
		}
		reassembled = append(reassembled, slice...)
	}

	if !bytes.Equal(reassembled, blob) {
		t.Fatalf("reassembled blob does not match original")
	}

	h, got, err := decodeDataFrame(reassembled)
	if err != nil {
		t.Fatalf("decodeDataFrame(reassembled): %v", err)
	}
	if h.Target != target || !bytes.Equal(got, payload) {
		t.Fatalf("reassembled frame mismatch: target=%v payload len=%d", h.Target, len(got))
	}
}

func TestDecodeFragmentDetectsCRCCorruption(t *testing.T) {
	frame := encodeFragment(1, 0, []byte("payload-slice"))
	frame[len(frame)-1] ^= 0xFF

	if _, _, err := decodeFragment(frame); !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("got %v, want ErrCRCMismatch", err)
	}
}

func TestEncodeDecodeAckRoundTrip(t *testing.T) {
	frame := encodeAck(ackMessage{MessageID: 7, FragmentIndex: 3})
	got, err := decodeAck(frame)
	if err != nil {
		t.Fatalf("decodeAck: %v", err)
	}
	if got.MessageID != 7 || got.FragmentIndex != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestPeekMessageTypeDistinguishesFrameKinds(t *testing.T) {
	data, _ := encodeDataFrame(testPeer(4), []byte("x"))
	frag := encodeFragment(1, 0, []byte("y"))
	ack := encodeAck(ackMessage{MessageID: 1})

	cases := []struct {
		name string
		raw  []byte
		want uint16
	}{
		{"data", data, msgTypeData},
		{"fragment", frag, msgTypeFragment},
		{"ack", ack, msgTypeAck},
	}
	for _, tc := range cases {
		got, err := peekMessageType(tc.raw)
		if err != nil {
			t.Fatalf("%s: peekMessageType: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got type %d, want %d", tc.name, got, tc.want)
		}
	}
}
