package wlan

import (
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
)

// fragmentTimeout is FRAGMENT_TIMEOUT from §4.3: how long to wait for an
// ACK on the currently outstanding fragment before retransmitting.
const fragmentTimeout = 1000 * time.Millisecond

// maxInFlight bounds pending_Fragment_Messages (§4.3: bound to 10). This
// is the WLAN bearer's only form of backpressure.
const maxInFlight = 10

// fragmentMessage is one outbound message admitted into the fragmentation
// stage, tracked until every fragment has been acknowledged, its overall
// deadline passes, or the session it belongs to is torn down.
type fragmentMessage struct {
	messageID      uint32
	sess           *session
	blob           []byte
	fragments      [][]byte
	totalFragments uint16
	acked          map[uint16]struct{}
	cursor         uint16
	nextAck        time.Time
	deadline       time.Time
}

func newFragmentMessage(id uint32, sess *session, target peerid.ID, payload []byte, deadline time.Time) *fragmentMessage {
	blob := buildWlanBlob(target, payload)
	pieces := splitIntoFragments(blob)
	return &fragmentMessage{
		messageID:      id,
		sess:           sess,
		blob:           blob,
		fragments:      pieces,
		totalFragments: uint16(len(pieces)),
		acked:          make(map[uint16]struct{}, len(pieces)),
		deadline:       deadline,
	}
}

// fullyAcked reports whether every fragment index has been acknowledged.
func (m *fragmentMessage) fullyAcked() bool {
	return len(m.acked) >= int(m.totalFragments)
}

// nextUnacked returns the lowest index at or after start that has not yet
// been acknowledged, wrapping once back to 0 (§4.3: "monotone traversal of
// the ACK set"). ok is false only if every index is already acked.
func (m *fragmentMessage) nextUnacked(start uint16) (idx uint16, ok bool) {
	for i := uint16(0); i < m.totalFragments; i++ {
		candidate := (start + i) % m.totalFragments
		if _, done := m.acked[candidate]; !done {
			return candidate, true
		}
	}
	return 0, false
}

// admission runs the §4.3 admission algorithm: while there is a free
// in-flight slot and a session waiting, pop it and either fail its pending
// message (deadline already passed) or promote it into a fragmentMessage.
func (p *Plugin) admission(now time.Time) {
	for len(p.inflight) < maxInFlight && len(p.pendingSessions) > 0 {
		sess := p.pendingSessions[0]
		p.pendingSessions = p.pendingSessions[1:]

		pm := sess.pending
		sess.pending = nil
		if pm == nil {
			sess.hasFragment = false
			continue
		}

		if !pm.deadline.IsZero() && now.After(pm.deadline) {
			sess.hasFragment = false
			if pm.cont != nil {
				pm.cont(sess.peer, plugin.ErrSocketAbsent, 0, 0)
			}
			continue
		}

		if pm.cont != nil {
			pm.cont(sess.peer, nil, len(pm.payload), len(pm.payload))
		}

		msg := newFragmentMessage(p.nextMessageID(), sess, sess.peer, pm.payload, pm.deadline)
		msg.nextAck = now
		p.inflight = append(p.inflight, msg)
	}
}

// emitTick examines the head in-flight message (soonest nextAck) and sends
// its next due fragment, per §4.3's per-fragment emission algorithm. It is
// invoked on a timer scheduled by scheduleFragmentTimer and re-arms itself
// for whatever becomes due next.
func (p *Plugin) emitTick() {
	now := time.Now()
	p.sortInFlightByNextAck()

	if len(p.inflight) == 0 {
		return
	}

	msg := p.inflight[0]
	if now.After(msg.deadline) {
		p.removeInFlight(msg)
		p.admission(now)
		p.scheduleFragmentTimer()
		return
	}

	if now.Before(msg.nextAck) {
		p.scheduleFragmentTimer()
		return
	}

	idx, ok := msg.nextUnacked(msg.cursor)
	if !ok {
		// Every index already acknowledged; ACK handling should have
		// already released this message, but guard against the race.
		p.removeInFlight(msg)
		p.admission(now)
		p.scheduleFragmentTimer()
		return
	}

	if msg.totalFragments == 1 {
		p.writeToSession(msg.sess, msg.blob)
	} else {
		frame := encodeFragment(msg.messageID, idx, msg.fragments[idx])
		p.writeToSession(msg.sess, frame)
	}
	msg.sess.touch(now)

	msg.cursor = idx + 1
	if msg.cursor >= msg.totalFragments {
		msg.cursor = 0
	}
	msg.nextAck = now.Add(fragmentTimeout)

	p.scheduleFragmentTimer()
}

// handleAck applies an incoming selective ACK to the matching in-flight
// message. Duplicate and stale ACKs are silently idempotent (§4.3).
func (p *Plugin) handleAck(a ackMessage) {
	for _, msg := range p.inflight {
		if msg.messageID != a.MessageID {
			continue
		}
		msg.acked[a.FragmentIndex] = struct{}{}
		if msg.fullyAcked() {
			p.removeInFlight(msg)
			p.admission(time.Now())
			p.scheduleFragmentTimer()
		}
		return
	}
}

func (p *Plugin) removeInFlight(target *fragmentMessage) {
	for i, msg := range p.inflight {
		if msg == target {
			p.inflight = append(p.inflight[:i], p.inflight[i+1:]...)
			target.sess.hasFragment = false
			return
		}
	}
}

func (p *Plugin) sortInFlightByNextAck() {
	for i := 1; i < len(p.inflight); i++ {
		for j := i; j > 0 && p.inflight[j].nextAck.Before(p.inflight[j-1].nextAck); j-- {
			p.inflight[j], p.inflight[j-1] = p.inflight[j-1], p.inflight[j]
		}
	}
}
