package validation

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// fakeSigner signs by prefixing data with its own identity and rejects any
// signature that does not carry the claimed signer's identity prefix,
// enough to exercise Engine's sign/verify call sites without a real
// cryptographic identity layer.
type fakeSigner struct {
	self      peerid.ID
	rejectAll bool
}

func (s *fakeSigner) Sign(data []byte) ([]byte, error) {
	sig := make([]byte, 0, peerid.Size+len(data))
	sig = append(sig, s.self[:]...)
	sig = append(sig, data...)
	return sig, nil
}

func (s *fakeSigner) Verify(data, signature []byte, signer peerid.ID) error {
	if s.rejectAll {
		return errors.New("fakeSigner: rejectAll set")
	}
	if len(signature) < peerid.Size {
		return errors.New("fakeSigner: signature too short")
	}
	var got peerid.ID
	copy(got[:], signature[:peerid.Size])
	if got != signer {
		return errors.New("fakeSigner: signature identity mismatch")
	}
	if !bytes.Equal(signature[peerid.Size:], data) {
		return errors.New("fakeSigner: signature payload mismatch")
	}
	return nil
}

func testAddr(raw string) wireaddr.Address {
	return wireaddr.Address{Plugin: "xu", Raw: []byte(raw), Origin: wireaddr.OriginInbound}
}

func TestChallengeThenPongValidates(t *testing.T) {
	peerA := testPeer(0xA1)
	peerB := testPeer(0xB2)
	addr := testAddr("station-b")

	signerA := &fakeSigner{self: peerA}
	signerB := &fakeSigner{self: peerB}

	var engineA, engineB *Engine
	engineA = NewEngine(peerA, signerA, func(peer peerid.ID, addr wireaddr.Address, payload []byte) {
		now := time.Now()
		if err := engineB.HandleReceive(peerA, addr, payload, now); err != nil {
			t.Errorf("engineB.HandleReceive: %v", err)
		}
	}, "test", nil, Config{})
	engineB = NewEngine(peerB, signerB, func(peer peerid.ID, addr wireaddr.Address, payload []byte) {
		now := time.Now()
		if err := engineA.HandleReceive(peerB, addr, payload, now); err != nil {
			t.Errorf("engineA.HandleReceive: %v", err)
		}
	}, "test", nil, Config{})

	now := time.Now()
	if err := engineA.Challenge(peerB, addr, now); err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	if !engineA.IsValidated(peerB, addr, now) {
		t.Fatalf("engineA did not mark %v validated after PONG round trip", peerB)
	}
	if engineB.IsValidated(peerA, addr, now) {
		t.Fatalf("engineB should not validate an address it never challenged")
	}
}

func TestChallengeRespectsBackoff(t *testing.T) {
	peer := testPeer(1)
	addr := testAddr("a")
	sent := 0
	signer := &fakeSigner{self: testPeer(0xFF)}
	engine := NewEngine(testPeer(0xFF), signer, func(peerid.ID, wireaddr.Address, []byte) { sent++ }, "test", nil, Config{})

	now := time.Now()
	if err := engine.Challenge(peer, addr, now); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if err := engine.Challenge(peer, addr, now.Add(time.Millisecond)); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if sent != 1 {
		t.Fatalf("got %d pings sent, want 1 (second call should be backoff-blocked)", sent)
	}

	if err := engine.Challenge(peer, addr, now.Add(DefaultRevalidationBackoff+time.Second)); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if sent != 2 {
		t.Fatalf("got %d pings sent, want 2 after backoff elapsed", sent)
	}
}

func TestHandlePingRejectsWrongTarget(t *testing.T) {
	self := testPeer(1)
	other := testPeer(2)
	signer := &fakeSigner{self: other}
	engine := NewEngine(self, signer, func(peerid.ID, wireaddr.Address, []byte) {}, "test", nil, Config{})

	sig, _ := signer.Sign(signedPingSpan(1, other, []byte("addr")))
	frame, err := encodePing(1, other, []byte("addr"), sig)
	if err != nil {
		t.Fatalf("encodePing: %v", err)
	}
	if err := engine.HandleReceive(other, testAddr("addr"), frame, time.Now()); !errors.Is(err, ErrWrongTarget) {
		t.Fatalf("got %v, want ErrWrongTarget", err)
	}
}

func TestHandlePingRejectsBadSignature(t *testing.T) {
	self := testPeer(1)
	from := testPeer(2)
	signer := &fakeSigner{self: self, rejectAll: true}
	engine := NewEngine(self, signer, func(peerid.ID, wireaddr.Address, []byte) {}, "test", nil, Config{})

	frame, err := encodePing(1, self, []byte("addr"), []byte("bogus-sig"))
	if err != nil {
		t.Fatalf("encodePing: %v", err)
	}
	if err := engine.HandleReceive(from, testAddr("addr"), frame, time.Now()); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("got %v, want ErrSignatureInvalid", err)
	}
}

func TestHandlePongRejectsUnknownNonce(t *testing.T) {
	self := testPeer(1)
	from := testPeer(2)
	signer := &fakeSigner{self: from}
	engine := NewEngine(self, signer, func(peerid.ID, wireaddr.Address, []byte) {}, "test", nil, Config{})

	sig, _ := signer.Sign(signedPongSpan(42, []byte("addr")))
	frame, err := encodePong(42, []byte("addr"), sig)
	if err != nil {
		t.Fatalf("encodePong: %v", err)
	}
	if err := engine.HandleReceive(from, testAddr("addr"), frame, time.Now()); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("got %v, want ErrNonceMismatch", err)
	}
}

func TestBlockForeverSurvivesEviction(t *testing.T) {
	self := testPeer(1)
	peer := testPeer(2)
	addr := testAddr("a")
	signer := &fakeSigner{self: self}
	engine := NewEngine(self, signer, func(peerid.ID, wireaddr.Address, []byte) {}, "test", nil, Config{EvictionHorizon: time.Millisecond})

	engine.BlockForever(peer, addr)
	engine.Evict(time.Now().Add(24 * time.Hour))

	if engine.Len() != 1 {
		t.Fatalf("got %d entries after eviction sweep, want the blocked entry to survive", engine.Len())
	}

	if err := engine.Challenge(peer, addr, time.Now()); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
}

func TestEvictDropsStaleUnvalidatedEntry(t *testing.T) {
	self := testPeer(1)
	peer := testPeer(2)
	addr := testAddr("a")
	signer := &fakeSigner{self: self}
	engine := NewEngine(self, signer, func(peerid.ID, wireaddr.Address, []byte) {}, "test", nil, Config{EvictionHorizon: time.Minute})

	now := time.Now()
	if err := engine.Challenge(peer, addr, now); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
	if engine.Len() != 1 {
		t.Fatalf("got %d entries, want 1 after Challenge", engine.Len())
	}

	engine.Evict(now.Add(2 * time.Minute))
	if engine.Len() != 0 {
		t.Fatalf("got %d entries after eviction horizon passed, want 0", engine.Len())
	}
}
