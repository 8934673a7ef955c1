package xu

import (
	"net/netip"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/sched"
	"github.com/dantte-lp/gobearer/internal/tokenizer"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// session is the datagram bearer's live (peer, address) record. Every
// field is only ever touched from the Plugin's actor goroutine (§5); no
// locking is needed.
type session struct {
	peer   peerid.ID
	addr   wireaddr.Address
	remote netip.AddrPort
	scope  wireaddr.Scope

	// tok demultiplexes this session's datagram bodies into framed
	// messages (§3's "a private tokenizer instance"); each inbound
	// datagram is pushed through it before dispatch.
	tok *tokenizer.Tokenizer

	lastTransmit time.Time
	cancelIdle   sched.CancelFunc

	// receiveDelayUntil is the deadline before which delivery of the next
	// message from this session should be deferred, per the most recent
	// advisory pacing hint ("flow-delay-from-peer", §3) the overlay
	// returned from the Receive upcall.
	receiveDelayUntil time.Time

	// pendingDestroy marks a session whose DisconnectSession has already
	// run once; further calls are no-ops (§4.1 "Disconnect is
	// idempotent").
	pendingDestroy bool
}

var _ plugin.Session = (*session)(nil)

func (s *session) Peer() peerid.ID           { return s.peer }
func (s *session) Address() wireaddr.Address { return s.addr }
func (s *session) Network() wireaddr.Scope   { return s.scope }

// touch advances last-transmit-time monotonically: it is always
// max(now, previous), never allowed to move backwards even if a stale
// send-completion callback runs out of order (§6 invariant).
func (s *session) touch(now time.Time) {
	if now.After(s.lastTransmit) {
		s.lastTransmit = now
	}
}
