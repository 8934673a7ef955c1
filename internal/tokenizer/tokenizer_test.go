package tokenizer_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/dantte-lp/gobearer/internal/tokenizer"
)

func frame(msgType uint16, body []byte) []byte {
	size := tokenizer.HeaderSize + len(body)
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], body)
	return buf
}

func TestSingleFrameInOneChunk(t *testing.T) {
	tk := tokenizer.New()
	msgs, err := tk.Push(frame(7, []byte("hello")))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != 7 || string(msgs[0].Body) != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestFrameSplitAcrossChunks(t *testing.T) {
	tk := tokenizer.New()
	full := frame(1, []byte("split-me-please"))

	msgs, err := tk.Push(full[:3])
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected no messages yet, got %+v err=%v", msgs, err)
	}

	msgs, err = tk.Push(full[3:])
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != "split-me-please" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMultipleFramesOneChunk(t *testing.T) {
	tk := tokenizer.New()
	buf := append(frame(1, []byte("a")), frame(2, []byte("bb"))...)

	msgs, err := tk.Push(buf)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Type != 1 || msgs[1].Type != 2 {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestFatalFramingTooSmall(t *testing.T) {
	tk := tokenizer.New()
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], 3) // size < HeaderSize
	_, err := tk.Push(buf)
	if !errors.Is(err, tokenizer.ErrFatalFraming) {
		t.Fatalf("expected ErrFatalFraming, got %v", err)
	}
}

func TestOrderingPreservedAcrossManySmallChunks(t *testing.T) {
	tk := tokenizer.New()
	full := append(frame(1, []byte("first")), frame(2, []byte("second"))...)

	var all []tokenizer.Message
	for i := 0; i < len(full); i++ {
		msgs, err := tk.Push(full[i : i+1])
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		all = append(all, msgs...)
	}

	if len(all) != 2 || string(all[0].Body) != "first" || string(all[1].Body) != "second" {
		t.Fatalf("unexpected ordering: %+v", all)
	}
}
