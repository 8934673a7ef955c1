package validation

import (
	"log/slog"

	"github.com/dantte-lp/gobearer/internal/peerid"
)

// StubSigner is a no-op Signer used when no cryptographic identity layer
// is configured. It produces an empty signature and accepts every
// verification unconditionally, matching internal/natmap's StubMapper
// idiom for an out-of-scope external collaborator: PING/PONG address
// validation still runs end to end, but without any actual proof of
// identity, so it degrades to liveness checking rather than spoofing
// resistance. Every accepted verification is logged at warn level so an
// operator notices a production deployment running without real
// signatures.
type StubSigner struct {
	logger *slog.Logger
}

// NewStubSigner creates a no-op Signer.
func NewStubSigner(logger *slog.Logger) *StubSigner {
	return &StubSigner{logger: logger.With(slog.String("component", "validation.stub"))}
}

// Sign implements Signer, returning an empty signature.
func (s *StubSigner) Sign(data []byte) ([]byte, error) {
	return []byte{}, nil
}

// Verify implements Signer, accepting unconditionally.
func (s *StubSigner) Verify(data, signature []byte, signer peerid.ID) error {
	s.logger.Warn("accepted unsigned validation message (stub signer, no identity proof)",
		slog.String("claimed_signer", signer.String()),
	)
	return nil
}

var _ Signer = (*StubSigner)(nil)
