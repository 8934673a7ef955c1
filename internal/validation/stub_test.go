package validation_test

import (
	"log/slog"
	"testing"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/validation"
)

func TestStubSignerAcceptsEverything(t *testing.T) {
	t.Parallel()

	s := validation.NewStubSigner(slog.New(slog.DiscardHandler))

	sig, err := s.Sign([]byte("anything"))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	if err := s.Verify([]byte("anything"), sig, peerid.ID{0xAA}); err != nil {
		t.Errorf("Verify() error: %v, want nil", err)
	}

	if err := s.Verify([]byte("anything"), []byte("garbage signature"), peerid.ID{0xBB}); err != nil {
		t.Errorf("Verify() with garbage signature error: %v, want nil (stub accepts everything)", err)
	}
}
