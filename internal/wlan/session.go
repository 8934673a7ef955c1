package wlan

import (
	"net"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/sched"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// pendingMessage is the single outbound message a session may have queued
// ahead of admission into the fragmentation stage (§4.3: "at most one
// PendingMessage per session").
type pendingMessage struct {
	payload  []byte
	deadline time.Time
	cont     plugin.SendContinuation
}

// session is one live (peer, MAC) record owned by the wlan plugin's actor.
type session struct {
	peer peerid.ID
	mac  net.HardwareAddr
	addr wireaddr.Address

	pending     *pendingMessage
	hasFragment bool

	lastTransmit time.Time
	cancelIdle   sched.CancelFunc

	// receiveDelayUntil is the deadline before which delivery of the next
	// message from this session should be deferred, per the most recent
	// advisory pacing hint ("flow-delay-from-peer", §3) the overlay
	// returned from the Receive upcall.
	receiveDelayUntil time.Time

	pendingDestroy bool
}

// Peer implements plugin.Session.
func (s *session) Peer() peerid.ID { return s.peer }

// Address implements plugin.Session.
func (s *session) Address() wireaddr.Address { return s.addr }

// Network implements plugin.Session. The WLAN bearer only ever speaks to
// directly associated stations, so every session is link-local.
func (s *session) Network() wireaddr.Scope { return wireaddr.ScopeLAN }

// touch advances lastTransmit to max(now, previous), the same monotonic
// rule the xu bearer applies (§4.2).
func (s *session) touch(now time.Time) {
	if now.After(s.lastTransmit) {
		s.lastTransmit = now
	}
}
