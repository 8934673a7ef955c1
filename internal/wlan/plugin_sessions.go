package wlan

import (
	"net"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// lookupOrCreateByMAC returns the existing session for mac, creating one
// (with the peer identity still unknown) and firing SessionStart if none
// exists yet. WLAN frames carry no sender-identity field (see
// reassemblyKey's doc comment), so inbound sessions are found by MAC and
// filed under the zero peer identity; nothing in this bearer later binds
// the MAC to a peer identity.
func (p *Plugin) lookupOrCreateByMAC(mac net.HardwareAddr) *session {
	for _, list := range p.sessions {
		for _, s := range list {
			if s.mac.String() == mac.String() {
				return s
			}
		}
	}
	return p.createSession(peerid.ID{}, mac, true)
}

func (p *Plugin) createSession(peer peerid.ID, mac net.HardwareAddr, notify bool) *session {
	raw, _ := wireaddr.EncodeMAC(mac)
	addr := wireaddr.Address{Plugin: bearerName, Raw: raw, Origin: wireaddr.OriginInbound}

	s := &session{
		peer: peer,
		mac:  append(net.HardwareAddr(nil), mac...),
		addr: addr,
	}
	p.sessions[peer] = append(p.sessions[peer], s)
	p.armIdleTimeout(s)

	if p.env.Stats != nil {
		p.env.Stats.SetActiveSessions(bearerName, p.sessionCount())
	}
	if notify && p.env.Upcalls.SessionStart != nil {
		p.env.Upcalls.SessionStart(addr, s, s.Network())
	}
	p.notifyMonitors(plugin.MonitorUp, s)
	return s
}

func (p *Plugin) sessionCount() int {
	n := 0
	for _, list := range p.sessions {
		n += len(list)
	}
	return n
}

func (p *Plugin) refreshDeadline(s *session) {
	now := time.Now()
	s.touch(now)
	p.armIdleTimeout(s)
}

func (p *Plugin) armIdleTimeout(s *session) {
	if s.cancelIdle != nil {
		s.cancelIdle()
	}
	captured := s
	s.cancelIdle = p.actor.AfterFunc(p.cfg.idleTimeout(), func() {
		p.teardownSession(captured)
	})
}

// teardownSession removes s from the session table and fires SessionEnd
// exactly once. Idempotent, guarded by pendingDestroy like the xu bearer's
// equivalent.
func (p *Plugin) teardownSession(s *session) {
	if s.pendingDestroy {
		return
	}
	s.pendingDestroy = true
	if s.cancelIdle != nil {
		s.cancelIdle()
	}

	list := p.sessions[s.peer]
	for i, cand := range list {
		if cand == s {
			p.sessions[s.peer] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.sessions[s.peer]) == 0 {
		delete(p.sessions, s.peer)
	}

	for i := 0; i < len(p.pendingSessions); i++ {
		if p.pendingSessions[i] == s {
			p.pendingSessions = append(p.pendingSessions[:i], p.pendingSessions[i+1:]...)
			i--
		}
	}
	if s.pending != nil && s.pending.cont != nil {
		s.pending.cont(s.peer, plugin.ErrSocketAbsent, 0, 0)
		s.pending = nil
	}
	for _, msg := range p.inflight {
		if msg.sess == s {
			p.removeInFlight(msg)
			break
		}
	}

	if p.env.Stats != nil {
		p.env.Stats.SetActiveSessions(bearerName, p.sessionCount())
	}
	if p.env.Upcalls.SessionEnd != nil {
		p.env.Upcalls.SessionEnd(s.addr, s)
	}
	p.notifyMonitors(plugin.MonitorDone, s)
}
