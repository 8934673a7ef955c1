package validation

import (
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// WrapReceive returns a plugin.Upcalls.Receive function that intercepts
// PING/PONG traffic for engine and hands everything else to next
// unchanged. A bearer wires this in once, at construction, instead of
// teaching its own wire codec about validation message types.
//
// resolvePeer recovers the peer identity a session belongs to; bearers
// that already know the peer at the point Receive fires (most do, via
// their session table) can pass a closure over that table.
func WrapReceive(engine *Engine, resolvePeer func(plugin.Session) peerid.ID, next func(wireaddr.Address, plugin.Session, []byte) time.Duration) func(wireaddr.Address, plugin.Session, []byte) time.Duration {
	return func(addr wireaddr.Address, session plugin.Session, payload []byte) time.Duration {
		if IsValidationMessage(payload) {
			from := resolvePeer(session)
			_ = engine.HandleReceive(from, addr, payload, time.Now())
			return 0
		}
		return next(addr, session, payload)
	}
}
