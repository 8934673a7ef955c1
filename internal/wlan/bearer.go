package wlan

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

// ErrSessionBusy indicates a session already has a pending message queued
// for fragmentation (§4.3: "at most one PendingMessage per session").
var ErrSessionBusy = fmt.Errorf("wlan: %w", plugin.ErrSocketAbsent)

// ErrValidationDisabled indicates the plugin was constructed with a nil
// signer and cannot issue or answer PING/PONG challenges (§4.4).
var ErrValidationDisabled = fmt.Errorf("wlan: %w", plugin.ErrConfigInvalid)

// ValidateAddress issues an address-validation PING for (peer, addr) if
// one is not already outstanding or in backoff (§4.4). The caller is
// notified only indirectly, via IsAddressValidated once the PONG arrives.
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

// GetNetworkForAddress implements plugin.Bearer. A WLAN peer is only ever
// reachable over a direct link-layer association, so it is always
// classified as LAN-scope.
func (p *Plugin) GetNetworkForAddress(addr wireaddr.Address) wireaddr.Scope {
	if addr.Plugin != bearerName {
		return wireaddr.ScopeUnspecified
	}
	return wireaddr.ScopeLAN
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
		return wireaddr.Address{}, fmt.Errorf("wlan: string to address: %w", plugin.ErrAddressMalformed)
	}
	return addr, nil
}

// CheckAddress implements plugin.Bearer. A WLAN address is exactly 6
// bytes; multicast and broadcast MACs are rejected (§4.3, the redesign
// decision recorded in SPEC_FULL.md §9).
func (p *Plugin) CheckAddress(raw []byte) error {
	mac, err := wireaddr.DecodeMAC(raw)
	if err != nil {
		return fmt.Errorf("wlan: check address: %w", err)
	}
	if wireaddr.IsMulticastOrBroadcast(mac) {
		return fmt.Errorf("wlan: check address: %w", plugin.ErrAddressMalformed)
	}
	return nil
}

// GetSession implements plugin.Bearer. It resolves (or lazily creates) a
// session for an outbound-initiated MAC address; no SessionStart upcall
// fires for sessions created this way (§4.1).
func (p *Plugin) GetSession(ctx context.Context, addr wireaddr.Address) (plugin.Session, error) {
	if addr.Plugin != bearerName {
		return nil, fmt.Errorf("wlan: get session: %w", plugin.ErrAddressMalformed)
	}
	mac, err := wireaddr.DecodeMAC(addr.Raw)
	if err != nil {
		return nil, fmt.Errorf("wlan: get session: %w", err)
	}
	if wireaddr.IsMulticastOrBroadcast(mac) {
		return nil, fmt.Errorf("wlan: get session: %w", plugin.ErrAddressMalformed)
	}

	var out plugin.Session
	err = p.actor.PostSync(ctx, func() {
		for _, list := range p.sessions {
			for _, s := range list {
				if s.mac.String() == mac.String() {
					out = s
					return
				}
			}
		}
		out = p.createSession(peerid.ID{}, mac, false)
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
		return fmt.Errorf("wlan: disconnect session: %w", plugin.ErrSessionNotFound)
	}
	return p.actor.PostSync(ctx, func() {
		p.teardownSession(sess)
	})
}

// DisconnectPeer implements plugin.Bearer.
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
		return fmt.Errorf("wlan: update session timeout: %w", plugin.ErrSessionNotFound)
	}
	return p.actor.PostSync(ctx, func() {
		p.refreshDeadline(sess)
	})
}

// Send implements plugin.Bearer. A payload that fits in a single MTU is
// written immediately and cont fires synchronously with the result, the
// same "no internal queueing" contract the xu bearer gives its datagrams.
// A larger payload is queued for the fragmentation/admission pipeline
// (§4.3); cont fires once admission accepts or rejects it, not once every
// fragment has actually been acknowledged on the wire — acceptance into
// the pipeline is the delivery guarantee this bearer's Send offers, the
// same boundary the reference draws between "sendto succeeded" and
// "the peer actually processed it" for the datagram bearer.
func (p *Plugin) Send(ctx context.Context, s plugin.Session, payload []byte, deadline time.Time, cont plugin.SendContinuation) int {
	sess, ok := s.(*session)
	if !ok {
		if cont != nil {
			cont(peerid.ID{}, fmt.Errorf("wlan: send: %w", plugin.ErrSessionNotFound), 0, 0)
		}
		return -1
	}
	if len(payload) == 0 {
		if cont != nil {
			cont(sess.peer, fmt.Errorf("wlan: send: %w", plugin.ErrPayloadEmpty), 0, 0)
		}
		return -1
	}

	unfragmented := wlanHeaderLen+len(payload) <= wlanMTU
	estimate := wlanHeaderLen + len(payload)
	if !unfragmented {
		fragmentCount := (estimate + maxFragmentPayload - 1) / maxFragmentPayload
		estimate = fragmentCount*fragHeaderLen + len(payload)
	}

	postErr := p.actor.Post(ctx, func() {
		if unfragmented {
			blob := buildWlanBlob(sess.peer, payload)
			p.writeToSession(sess, blob)
			p.refreshDeadline(sess)
			if p.env.Stats != nil {
				p.env.Stats.IncMessagesSent(bearerName, true)
			}
			if cont != nil {
				cont(sess.peer, nil, len(payload), len(blob))
			}
			return
		}

		if sess.pending != nil {
			if cont != nil {
				cont(sess.peer, ErrSessionBusy, 0, 0)
			}
			return
		}
		sess.pending = &pendingMessage{payload: payload, deadline: deadline, cont: cont}
		if !sess.hasFragment {
			sess.hasFragment = true
			p.pendingSessions = append(p.pendingSessions, sess)
		}
		p.admission(time.Now())
		p.scheduleFragmentTimer()
	})
	if postErr != nil {
		if cont != nil {
			cont(sess.peer, postErr, 0, 0)
		}
		return -1
	}
	return estimate
}
