package xu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/validation"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// ErrValidationDisabled indicates the plugin was constructed with a nil
// signer and cannot issue or answer PING/PONG challenges (§4.4).
var ErrValidationDisabled = fmt.Errorf("xu: %w", plugin.ErrConfigInvalid)

// ValidateAddress issues an address-validation PING for (peer, addr) if
// one is not already outstanding or in backoff (§4.4).
func (p *Plugin) ValidateAddress(ctx context.Context, peer peerid.ID, addr wireaddr.Address) error {
	if p.validation == nil {
		return ErrValidationDisabled
	}
	return p.actor.PostSync(ctx, func() {
		if err := p.validation.Challenge(peer, addr, time.Now()); err != nil {
			p.logger.Warn("address validation challenge failed", slog.Any("error", err))
		}
	})
}

// IsAddressValidated reports whether (peer, addr) is currently within its
// validation horizon (§4.4).
func (p *Plugin) IsAddressValidated(ctx context.Context, peer peerid.ID, addr wireaddr.Address) bool {
	if p.validation == nil {
		return false
	}
	var ok bool
	_ = p.actor.PostSync(ctx, func() {
		ok = p.validation.IsValidated(peer, addr, time.Now())
	})
	return ok
}

// Name implements plugin.Bearer.
func (p *Plugin) Name() string { return bearerName }

// Sessions returns a snapshot of every live session, for the control
// server's listing endpoint.
func (p *Plugin) Sessions() []plugin.Session {
	var out []plugin.Session
	_ = p.actor.PostSync(context.Background(), func() {
		for _, list := range p.sessions {
			for _, s := range list {
				out = append(out, s)
			}
		}
	})
	return out
}

// AddressBook returns a snapshot of every tracked address-validation
// entry, for the control server's address-book listing (§11.2). Returns
// nil if address validation is disabled.
func (p *Plugin) AddressBook(ctx context.Context) []validation.Entry {
	if p.validation == nil {
		return nil
	}
	var out []validation.Entry
	_ = p.actor.PostSync(ctx, func() {
		out = p.validation.Snapshot()
	})
	return out
}

// QueryKeepaliveFactor implements plugin.Bearer.
func (p *Plugin) QueryKeepaliveFactor() int { return p.cfg.keepaliveFactor() }

// GetNetworkForAddress implements plugin.Bearer.
func (p *Plugin) GetNetworkForAddress(addr wireaddr.Address) wireaddr.Scope {
	_, ip, _, err := wireaddr.DecodeDatagram(addr.Raw)
	if err != nil {
		return wireaddr.ScopeUnspecified
	}
	return wireaddr.ClassifyIP(ip)
}

// AddressToString implements plugin.Bearer.
func (p *Plugin) AddressToString(addr wireaddr.Address) (string, error) {
	return wireaddr.ToString(addr)
}

// StringToAddress implements plugin.Bearer.
func (p *Plugin) StringToAddress(s string) (wireaddr.Address, error) {
	addr, err := wireaddr.FromString(s)
	if err != nil {
		return wireaddr.Address{}, err
	}
	if addr.Plugin != bearerName {
		return wireaddr.Address{}, fmt.Errorf("xu: string to address: %w", plugin.ErrAddressMalformed)
	}
	return addr, nil
}

// CheckAddress implements plugin.Bearer. It validates the wire length and
// that the encoded port is non-zero.
func (p *Plugin) CheckAddress(raw []byte) error {
	_, _, port, err := wireaddr.DecodeDatagram(raw)
	if err != nil {
		return fmt.Errorf("xu: check address: %w", err)
	}
	if port == 0 {
		return fmt.Errorf("xu: check address: %w", plugin.ErrPortZero)
	}
	return nil
}

// GetSession implements plugin.Bearer. It resolves (or lazily creates) a
// session for an outbound-initiated address; no SessionStart upcall fires
// for sessions created this way (§4.1).
func (p *Plugin) GetSession(ctx context.Context, addr wireaddr.Address) (plugin.Session, error) {
	if addr.Plugin != bearerName {
		return nil, fmt.Errorf("xu: get session: %w", plugin.ErrAddressMalformed)
	}
	_, ip, port, err := wireaddr.DecodeDatagram(addr.Raw)
	if err != nil {
		return nil, fmt.Errorf("xu: get session: %w", err)
	}
	if port == 0 {
		return nil, fmt.Errorf("xu: get session: %w", plugin.ErrPortZero)
	}

	var out plugin.Session
	err = p.actor.PostSync(ctx, func() {
		// An outbound-initiated GetSession does not know the peer
		// identity, so the session is filed under the zero identity and
		// stays there: an inbound datagram from the same remote is
		// looked up under its sender's identity and gets a session of
		// its own.
		remote := netipAddrPortFrom(ip, port)
		for _, list := range p.sessions {
			for _, s := range list {
				if s.remote == remote {
					out = s
					return
				}
			}
		}
		out = p.createSession(peerid.ID{}, addr, remote, false)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DisconnectSession implements plugin.Bearer.
func (p *Plugin) DisconnectSession(ctx context.Context, s plugin.Session) error {
	sess, ok := s.(*session)
	if !ok {
		return fmt.Errorf("xu: disconnect session: %w", plugin.ErrSessionNotFound)
	}
	return p.actor.PostSync(ctx, func() {
		p.teardownSession(sess)
	})
}

// DisconnectPeer implements plugin.Bearer. Every session belonging to
// peer is torn down; the method is idempotent if called with an unknown
// peer, matching the reference "disconnect is a no-op on unknown ids"
// behavior.
func (p *Plugin) DisconnectPeer(ctx context.Context, peer peerid.ID) error {
	return p.actor.PostSync(ctx, func() {
		sessions := append([]*session(nil), p.sessions[peer]...)
		for _, s := range sessions {
			p.teardownSession(s)
		}
	})
}

// UpdateSessionTimeout implements plugin.Bearer.
func (p *Plugin) UpdateSessionTimeout(ctx context.Context, s plugin.Session) error {
	sess, ok := s.(*session)
	if !ok {
		return fmt.Errorf("xu: update session timeout: %w", plugin.ErrSessionNotFound)
	}
	return p.actor.PostSync(ctx, func() {
		p.refreshDeadline(sess)
	})
}

// Send implements plugin.Bearer. The actual socket write happens
// synchronously on the actor goroutine so per-session ordering is
// preserved; cont fires exactly once, after the write attempt resolves.
func (p *Plugin) Send(ctx context.Context, s plugin.Session, payload []byte, deadline time.Time, cont plugin.SendContinuation) int {
	sess, ok := s.(*session)
	if !ok {
		if cont != nil {
			cont(peerid.ID{}, fmt.Errorf("xu: send: %w", plugin.ErrSessionNotFound), 0, 0)
		}
		return -1
	}
	if len(payload) == 0 {
		if cont != nil {
			cont(sess.peer, fmt.Errorf("xu: send: %w", plugin.ErrPayloadEmpty), 0, 0)
		}
		return -1
	}

	frame, err := encodeFrame(p.env.Self, payload)
	if err != nil {
		if cont != nil {
			cont(sess.peer, err, 0, 0)
		}
		return -1
	}

	postErr := p.actor.Post(ctx, func() {
		n, writeErr := p.writeTo(sess.remote, frame)
		if writeErr == nil {
			p.refreshDeadline(sess)
			if p.env.Stats != nil {
				p.env.Stats.IncBytesSent(bearerName, true, n)
				p.env.Stats.IncMessagesSent(bearerName, true)
			}
		} else if p.env.Stats != nil {
			p.env.Stats.IncMessagesSent(bearerName, false)
		}
		if cont != nil {
			cont(sess.peer, writeErr, len(payload), len(frame))
		}
	})
	if postErr != nil {
		if cont != nil {
			cont(sess.peer, postErr, 0, 0)
		}
		return -1
	}
	return len(frame)
}
