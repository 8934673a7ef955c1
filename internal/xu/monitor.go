package xu

import (
	"context"
	"time"

	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// AddressPrettyPrinter implements plugin.Bearer.
func (p *Plugin) AddressPrettyPrinter(ctx context.Context, addr wireaddr.Address, numeric bool, deadline time.Time, cb plugin.PrettyPrintCallback) {
	if cb == nil {
		return
	}
	if !numeric && p.resolver != nil {
		if name, err := p.resolver.ReverseLookup(ctx, addr); err == nil {
			cb(name, nil)
		}
	}
	s, err := wireaddr.ToString(addr)
	if err != nil {
		cb("", err)
		return
	}
	cb(s, nil)
	cb("", nil)
}

// SetupMonitor implements plugin.Bearer.
func (p *Plugin) SetupMonitor(cb plugin.MonitorCallback) func() {
	if cb == nil {
		return func() {}
	}
	var id uint64
	_ = p.actor.PostSync(context.Background(), func() {
		for _, list := range p.sessions {
			for _, s := range list {
				cb(plugin.MonitorInit, s)
				cb(plugin.MonitorUp, s)
			}
		}
		cb(plugin.MonitorDone, nil)
		id = p.nextMonitorID
		p.nextMonitorID++
		p.monitors[id] = cb
	})
	return func() {
		_ = p.actor.Post(context.Background(), func() {
			delete(p.monitors, id)
		})
	}
}

// notifyMonitors fans a session state change out to every registered
// monitor callback. Must run on the actor goroutine.
func (p *Plugin) notifyMonitors(state plugin.MonitorState, s *session) {
	for _, cb := range p.monitors {
		cb(state, s)
	}
}
