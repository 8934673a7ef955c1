package validation

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// Signer is the cryptographic identity layer's signing/verification
// contract, consumed here as an opaque external collaborator behind
// Sign/Verify rather than hard-coding a signature algorithm.
type Signer interface {
	// Sign returns a signature over data, made under this node's own
	// identity.
	Sign(data []byte) ([]byte, error)
	// Verify checks that signature is a valid signature over data made by
	// signer.
	Verify(data, signature []byte, signer peerid.ID) error
}

// Sender is how the engine transmits a PING or PONG payload; the engine
// itself never touches a bearer socket. Bound at construction to one
// bearer's plugin.Bearer.Send, closed over a session resolved from addr.
type Sender func(peer peerid.ID, addr wireaddr.Address, payload []byte)

// ErrSignatureInvalid indicates a PING or PONG's signature did not verify.
var ErrSignatureInvalid = errors.New("validation: signature invalid")

// ErrWrongTarget indicates a PING's claimed target does not match this
// node's own identity.
var ErrWrongTarget = errors.New("validation: ping target is not this node")

// ErrNonceMismatch indicates a PONG's nonce does not match any pending
// challenge for its (peer, address).
var ErrNonceMismatch = errors.New("validation: pong nonce does not match pending challenge")

const (
	// DefaultValidityHorizon is how long a successful validation is
	// trusted before a fresh challenge is required.
	DefaultValidityHorizon = 4 * time.Hour
	// DefaultRevalidationBackoff blocks a new challenge for this long
	// after one is already outstanding, or after a failure.
	DefaultRevalidationBackoff = 30 * time.Second
	// DefaultEvictionHorizon is the "multi-hour" staleness bound after
	// which an entry that never validated (or hasn't been touched) is
	// dropped from the table entirely; see the eviction-sweep decision
	// recorded in the grounding ledger.
	DefaultEvictionHorizon = 6 * time.Hour
	// blockForever marks a (peer, address) that must never be challenged
	// again, per the HELLO-supplied-unsupported-plugin rule.
)

var blockForever = time.Unix(1<<62, 0)

type entryKey struct {
	peer peerid.ID
	addr string
}

// Entry is one (peer, address) pair's validation state.
type Entry struct {
	Peer                   peerid.ID
	Addr                   wireaddr.Address
	Nonce                  uint32
	PingSentAt             time.Time
	ValidatedUntil         time.Time
	RevalidationBlockUntil time.Time
	Latency                time.Duration
	createdAt              time.Time
}

// Validated reports whether the entry is currently within its validity
// horizon.
func (e *Entry) Validated(now time.Time) bool {
	return !e.ValidatedUntil.IsZero() && now.Before(e.ValidatedUntil)
}

// Engine owns the validation table for one bearer instance. It is not
// safe for concurrent use: like the sessions map and fragmentation queue
// it sits alongside, every call must come from the owning bearer's single
// actor goroutine.
type Engine struct {
	self    peerid.ID
	signer  Signer
	send    Sender
	bearer  string
	metrics StatsSink

	validityHorizon     time.Duration
	revalidationBackoff time.Duration
	evictionHorizon     time.Duration

	entries map[entryKey]*Entry
}

// StatsSink is the subset of plugin.StatsSink the engine needs; declared
// locally so this package does not have to import bearer-specific wiring
// beyond the one method it actually calls.
type StatsSink interface {
	IncCounter(bearer, name string)
}

// Config tunes an Engine's timing. A zero Config uses the package defaults.
type Config struct {
	ValidityHorizon     time.Duration
	RevalidationBackoff time.Duration
	EvictionHorizon     time.Duration
}

func (c Config) resolve() Config {
	if c.ValidityHorizon <= 0 {
		c.ValidityHorizon = DefaultValidityHorizon
	}
	if c.RevalidationBackoff <= 0 {
		c.RevalidationBackoff = DefaultRevalidationBackoff
	}
	if c.EvictionHorizon <= 0 {
		c.EvictionHorizon = DefaultEvictionHorizon
	}
	return c
}

// NewEngine constructs an Engine for one bearer. bearer names the owning
// bearer for metrics labeling only.
func NewEngine(self peerid.ID, signer Signer, send Sender, bearer string, metrics StatsSink, cfg Config) *Engine {
	cfg = cfg.resolve()
	return &Engine{
		self:                self,
		signer:              signer,
		send:                send,
		bearer:              bearer,
		metrics:             metrics,
		validityHorizon:     cfg.ValidityHorizon,
		revalidationBackoff: cfg.RevalidationBackoff,
		evictionHorizon:     cfg.EvictionHorizon,
		entries:             make(map[entryKey]*Entry),
	}
}

func key(peer peerid.ID, addr wireaddr.Address) entryKey {
	return entryKey{peer: peer, addr: addr.Plugin + ":" + string(addr.Raw)}
}

func nextNonce() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Challenge issues a fresh PING for (peer, addr) unless one is already
// outstanding or the pair is in backoff. Safe to call speculatively on
// every candidate address; the rate-control check makes repeat calls
// cheap no-ops.
func (e *Engine) Challenge(peer peerid.ID, addr wireaddr.Address, now time.Time) error {
	k := key(peer, addr)
	entry, ok := e.entries[k]
	if ok && now.Before(entry.RevalidationBlockUntil) {
		return nil
	}
	if !ok {
		entry = &Entry{Peer: peer, Addr: addr, createdAt: now}
		e.entries[k] = entry
	}

	nonce := nextNonce()
	rawAddr := addr.Raw
	signature, err := e.signer.Sign(signedPingSpan(nonce, peer, rawAddr))
	if err != nil {
		return fmt.Errorf("validation: sign ping: %w", err)
	}
	frame, err := encodePing(nonce, peer, rawAddr, signature)
	if err != nil {
		return fmt.Errorf("validation: encode ping: %w", err)
	}

	entry.Nonce = nonce
	entry.PingSentAt = now
	entry.RevalidationBlockUntil = now.Add(e.revalidationBackoff)

	e.send(peer, addr, frame)
	if e.metrics != nil {
		e.metrics.IncCounter(e.bearer, "ping_sent")
	}
	return nil
}

// BlockForever marks (peer, addr) as never to be challenged again, the
// HELLO-supplied-unsupported-plugin rule.
func (e *Engine) BlockForever(peer peerid.ID, addr wireaddr.Address) {
	k := key(peer, addr)
	entry, ok := e.entries[k]
	if !ok {
		entry = &Entry{Peer: peer, Addr: addr, createdAt: time.Now()}
		e.entries[k] = entry
	}
	entry.RevalidationBlockUntil = blockForever
}

// NotifyActiveUse biases the engine towards a sooner latency
// re-measurement for an address currently carrying traffic, by letting
// its next Challenge through immediately instead of waiting out the
// backoff window.
func (e *Engine) NotifyActiveUse(peer peerid.ID, addr wireaddr.Address, now time.Time) {
	entry, ok := e.entries[key(peer, addr)]
	if !ok || entry.RevalidationBlockUntil.Equal(blockForever) {
		return
	}
	if entry.Validated(now) && entry.RevalidationBlockUntil.After(now) {
		entry.RevalidationBlockUntil = now
	}
}

// IsValidated reports whether (peer, addr) is currently within its
// validity horizon.
func (e *Engine) IsValidated(peer peerid.ID, addr wireaddr.Address, now time.Time) bool {
	entry, ok := e.entries[key(peer, addr)]
	return ok && entry.Validated(now)
}

// HandleReceive is the entry point the owning bearer's wrapped Receive
// upcall calls for any payload IsValidationMessage identifies as PING or
// PONG. from and addr describe the already-demultiplexed sender session.
func (e *Engine) HandleReceive(from peerid.ID, addr wireaddr.Address, payload []byte, now time.Time) error {
	if len(payload) < tagLen {
		return fmt.Errorf("validation: %w", ErrFrameTooShort)
	}
	switch msgType(binary.BigEndian.Uint16(payload[0:tagLen])) {
	case msgTypePing:
		return e.handlePing(from, addr, payload, now)
	case msgTypePong:
		return e.handlePong(from, addr, payload, now)
	default:
		return fmt.Errorf("validation: %w", ErrNotAValidationMessage)
	}
}

func (e *Engine) handlePing(from peerid.ID, addr wireaddr.Address, raw []byte, now time.Time) error {
	ping, err := decodePing(raw)
	if err != nil {
		return err
	}
	if ping.Target != e.self {
		return fmt.Errorf("validation: %w", ErrWrongTarget)
	}
	span := signedPingSpan(ping.Nonce, ping.Target, ping.ObservedAddr)
	if err := e.signer.Verify(span, ping.Signature, from); err != nil {
		if e.metrics != nil {
			e.metrics.IncCounter(e.bearer, "signature_failed")
		}
		return fmt.Errorf("validation: %w: %w", ErrSignatureInvalid, err)
	}

	signature, err := e.signer.Sign(signedPongSpan(ping.Nonce, addr.Raw))
	if err != nil {
		return fmt.Errorf("validation: sign pong: %w", err)
	}
	frame, err := encodePong(ping.Nonce, addr.Raw, signature)
	if err != nil {
		return fmt.Errorf("validation: encode pong: %w", err)
	}
	e.send(from, addr, frame)
	return nil
}

func (e *Engine) handlePong(from peerid.ID, addr wireaddr.Address, raw []byte, now time.Time) error {
	pong, err := decodePong(raw)
	if err != nil {
		return err
	}
	entry, ok := e.entries[key(from, addr)]
	if !ok || entry.Nonce != pong.Nonce {
		return fmt.Errorf("validation: %w", ErrNonceMismatch)
	}
	if err := e.signer.Verify(signedPongSpan(pong.Nonce, pong.ObserverAddr), pong.Signature, from); err != nil {
		if e.metrics != nil {
			e.metrics.IncCounter(e.bearer, "signature_failed")
		}
		entry.RevalidationBlockUntil = now.Add(e.revalidationBackoff)
		return fmt.Errorf("validation: %w: %w", ErrSignatureInvalid, err)
	}

	entry.ValidatedUntil = now.Add(e.validityHorizon)
	entry.Latency = now.Sub(entry.PingSentAt)
	entry.RevalidationBlockUntil = time.Time{}
	if e.metrics != nil {
		e.metrics.IncCounter(e.bearer, "pong_verified")
	}
	return nil
}

// Evict drops entries that have sat unvalidated, or past their validity
// horizon, for longer than evictionHorizon (§4.4, §11.3: "stale entries
// older than a configured horizon").
func (e *Engine) Evict(now time.Time) {
	for k, entry := range e.entries {
		if entry.RevalidationBlockUntil.Equal(blockForever) {
			continue
		}
		reference := entry.ValidatedUntil
		if reference.IsZero() {
			reference = entry.createdAt
		}
		if now.Sub(reference) > e.evictionHorizon {
			delete(e.entries, k)
			if e.metrics != nil {
				e.metrics.IncCounter(e.bearer, "validation_evicted")
			}
		}
	}
}

// Len reports the number of tracked entries, for tests and diagnostics.
func (e *Engine) Len() int { return len(e.entries) }

// Snapshot returns a copy of every tracked address-validation entry, for
// the control surface's read-only address-book listing (§3 "Address
// book").
func (e *Engine) Snapshot() []Entry {
	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, *entry)
	}
	return out
}
