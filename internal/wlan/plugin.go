// Package wlan implements the WLAN fragmentation/reassembly bearer
// (§4.3): a raw-Ethernet-frame plugin that slices oversized messages into
// MTU-sized fragments, retransmits unacknowledged fragments on a timer,
// and reassembles inbound fragments back into whole frames before
// delivering them upward.
package wlan

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/gobearer/internal/netio"
	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/sched"
	"github.com/dantte-lp/gobearer/internal/validation"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
	"github.com/dantte-lp/gobearer/internal/wlanio"
)

// validationSweepInterval sets how often expired validation entries are
// swept (§11.3: every 30 minutes), piggybacking on the same actor-timer
// pattern the reassembly table sweep already uses.
const validationSweepInterval = 30 * time.Minute

// bearerName is the plugin name used as the address tag (§3).
const bearerName = wireaddr.PluginWLAN

// Defaults per §6/§4.1.
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultKeepaliveFactor = 15
)

// Config configures one Plugin instance (§10.3 bearers.wlan.*).
type Config struct {
	IdleTimeout     time.Duration
	KeepaliveFactor int

	// IfaceName is the network interface the bound Device reads and
	// writes frames on. It is used only to match against InterfaceEvent
	// (the device itself is already bound; this lets the bearer notice
	// the link going down and tear its sessions down immediately rather
	// than waiting out the idle timeout).
	IfaceName string
}

func (c Config) idleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

func (c Config) keepaliveFactor() int {
	if c.KeepaliveFactor <= 0 {
		return DefaultKeepaliveFactor
	}
	return c.KeepaliveFactor
}

// Plugin is the WLAN fragmentation/reassembly bearer. All mutable state
// (sessions, the admission queue, the in-flight fragment table, the
// reassembly map) is owned by actor and must only be mutated from tasks
// running on it (§5).
type Plugin struct {
	cfg    Config
	env    plugin.Environment
	logger *slog.Logger
	actor  *sched.Actor
	device wlanio.Device

	// sessions is keyed by peer identity; see reassemblyKey's doc comment
	// for why inbound identity binding is MAC-first for this bearer.
	sessions map[peerid.ID][]*session

	pendingSessions []*session
	inflight        []*fragmentMessage
	reassembly      map[reassemblyKey]*reassemblyEntry
	fragmentTimer   sched.CancelFunc

	validation *validation.Engine

	ifaceMon netio.InterfaceMonitor

	// monitors holds the callbacks registered via SetupMonitor, keyed by
	// an opaque subscription id so cancel() can remove just one.
	monitors      map[uint64]plugin.MonitorCallback
	nextMonitorID uint64

	resolver plugin.ReverseResolver

	readCtx    context.Context
	readCancel context.CancelFunc
	readDone   chan struct{}
}

var _ plugin.Bearer = (*Plugin)(nil)

// New constructs a Plugin bound to an already-opened Device. The caller
// owns device construction (wlanio.NewLinuxDevice for a real interface, a
// wlanio.MockDevice in tests) so Plugin stays free of platform-specific
// socket setup, the same separation internal/xu draws between its socket
// package and its plugin logic.
//
// signer is the cryptographic identity layer's Sign/Verify collaborator
// for address validation (§4.4); a nil signer disables PING/PONG handling
// entirely, which is a supported configuration for tests and for bearers
// that sit behind a validation-capable peer.
func New(cfg Config, env plugin.Environment, device wlanio.Device, signer validation.Signer, logger *slog.Logger) (*Plugin, error) {
	if device == nil {
		return nil, fmt.Errorf("wlan: %w: device required", plugin.ErrConfigInvalid)
	}
	p := &Plugin{
		cfg:        cfg,
		env:        env,
		logger:     logger.With(slog.String("bearer", bearerName)),
		actor:      sched.NewActor(256),
		device:     device,
		sessions:   make(map[peerid.ID][]*session),
		reassembly: make(map[reassemblyKey]*reassemblyEntry),
		ifaceMon:   netio.NewStubInterfaceMonitor(logger),
		monitors:   make(map[uint64]plugin.MonitorCallback),
		resolver:   plugin.NewStubReverseResolver(logger),
	}
	if signer != nil {
		p.validation = validation.NewEngine(env.Self, signer, p.sendValidationFrame, bearerName, env.Stats, validation.Config{})
	}
	return p, nil
}

// setInterfaceMonitor overrides the interface monitor used by Run, for
// tests that need to inject link-down events without a real network
// interface.
func (p *Plugin) setInterfaceMonitor(m netio.InterfaceMonitor) {
	p.ifaceMon = m
}

// sendValidationFrame implements validation.Sender: it writes an
// unfragmented control frame straight to the MAC a session's address
// resolves to, bypassing the admission/fragmentation pipeline the same
// way an unfragmented data Send does (§4.3's fast path).
func (p *Plugin) sendValidationFrame(peer peerid.ID, addr wireaddr.Address, payload []byte) {
	mac, err := wireaddr.DecodeMAC(addr.Raw)
	if err != nil {
		p.logger.Debug("dropping validation frame for unresolvable address", slog.Any("error", err))
		return
	}
	frame := buildWlanBlob(peer, payload)
	p.sendRawTo(mac, frame)
}

// nextMessageID draws a non-predictable message_id the same way the xu
// bearer draws candidate ephemeral ports, via crypto/rand rather than
// math/rand's default seed.
func (p *Plugin) nextMessageID() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Run starts the actor goroutine and the device read loop. It blocks
// until ctx is canceled, then drains the outstanding read before
// returning.
func (p *Plugin) Run(ctx context.Context) {
	readCtx, cancel := context.WithCancel(ctx)
	p.readCtx = readCtx
	p.readCancel = cancel
	p.readDone = make(chan struct{})

	actorDone := make(chan struct{})
	go func() {
		defer close(actorDone)
		p.actor.Run(ctx)
	}()

	go p.readLoop(readCtx)
	p.scheduleReassemblySweep(ctx)
	if p.validation != nil {
		p.scheduleValidationSweep(ctx)
	}

	ifaceMonDone := make(chan struct{})
	go func() {
		defer close(ifaceMonDone)
		if err := p.ifaceMon.Run(ctx); err != nil {
			p.logger.Warn("interface monitor stopped", slog.Any("error", err))
		}
	}()
	go p.watchInterfaceEvents(ctx)

	<-ctx.Done()
	cancel()
	// Closing the device unblocks a goroutine parked in a blocking
	// ReadFrame, mirroring the xu bearer's socket-close-before-wait
	// shutdown ordering (Go's raw sockets do not select on a context).
	_ = p.device.Close()
	<-p.readDone
	<-actorDone
	<-ifaceMonDone
}

// watchInterfaceEvents drains the interface monitor's event channel and
// posts link-down events matching the bound interface onto the actor.
// Posting rather than handling inline keeps session-table mutation on the
// single actor goroutine per §5.
func (p *Plugin) watchInterfaceEvents(ctx context.Context) {
	for ev := range p.ifaceMon.Events() {
		if ev.IfName != p.cfg.IfaceName || ev.Up {
			continue
		}
		event := ev
		if err := p.actor.Post(ctx, func() {
			p.handleInterfaceDown(event)
		}); err != nil {
			return
		}
	}
}

// handleInterfaceDown tears down every session when the bound interface
// goes down, the same link-failure-triggered teardown a detection-timer
// expiry produces, but without waiting for the idle timeout to elapse.
func (p *Plugin) handleInterfaceDown(ev netio.InterfaceEvent) {
	p.logger.Warn("wlan interface went down, tearing down sessions",
		slog.String("interface", ev.IfName))
	for _, list := range p.sessions {
		for _, s := range append([]*session(nil), list...) {
			p.teardownSession(s)
		}
	}
}

func (p *Plugin) readLoop(ctx context.Context) {
	defer close(p.readDone)

	buf := make([]byte, wlanMTU)
	for {
		if ctx.Err() != nil {
			return
		}
		n, from, err := p.device.ReadFrame(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("read failed", slog.Any("error", err))
			continue
		}
		if n == 0 {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		postErr := p.actor.Post(ctx, func() {
			p.handleFrame(from, frame)
		})
		if postErr != nil {
			return
		}
	}
}

// handleFrame runs on the actor goroutine and dispatches an inbound
// link-layer frame by its message type (§4.3).
func (p *Plugin) handleFrame(from net.HardwareAddr, frame []byte) {
	msgType, err := peekMessageType(frame)
	if err != nil {
		p.logger.Debug("short wlan frame dropped", slog.Any("error", err))
		return
	}

	switch msgType {
	case msgTypeData:
		h, payload, err := decodeDataFrame(frame)
		if err != nil {
			p.logger.Debug("malformed data frame dropped", slog.Any("error", err))
			if p.env.Stats != nil {
				p.env.Stats.IncCounter(bearerName, "data_crc_failed")
			}
			return
		}
		p.deliver(from, h.Target, payload)
	case msgTypeFragment:
		h, slice, err := decodeFragment(frame)
		if err != nil {
			p.logger.Debug("fragment dropped", slog.Any("error", err))
			if p.env.Stats != nil {
				p.env.Stats.IncCounter(bearerName, "fragment_crc_failed")
			}
			return
		}
		p.handleFragment(from, h, slice)
	case msgTypeAck:
		a, err := decodeAck(frame)
		if err != nil {
			p.logger.Debug("malformed ack dropped", slog.Any("error", err))
			return
		}
		p.handleAck(a)
	default:
		p.logger.Debug("unknown wlan message type dropped", slog.Int("type", int(msgType)))
	}
}

// deliver hands a fully validated frame upward, creating a session for the
// source MAC if one does not already exist.
func (p *Plugin) deliver(from net.HardwareAddr, target peerid.ID, payload []byte) {
	sess := p.lookupOrCreateByMAC(from)
	p.refreshDeadline(sess)

	if p.env.Stats != nil {
		p.env.Stats.IncBytesReceived(bearerName, len(payload))
	}
	if len(payload) == 0 {
		return
	}
	if p.validation != nil && validation.IsValidationMessage(payload) {
		if err := p.validation.HandleReceive(sess.peer, sess.addr, payload, time.Now()); err != nil {
			p.logger.Debug("validation message rejected", slog.Any("error", err))
		}
		return
	}
	p.deliverToUpcall(sess, payload)
}

// deliverToUpcall invokes the Receive upcall, honoring any advisory
// pacing delay ("flow-delay-from-peer") the previous call returned by
// deferring this one through the actor rather than blocking it (§5
// "Suspension points").
func (p *Plugin) deliverToUpcall(sess *session, payload []byte) {
	if p.env.Upcalls.Receive == nil {
		return
	}
	if wait := time.Until(sess.receiveDelayUntil); wait > 0 {
		p.actor.AfterFunc(wait, func() {
			p.deliverToUpcallNow(sess, payload)
		})
		return
	}
	p.deliverToUpcallNow(sess, payload)
}

func (p *Plugin) deliverToUpcallNow(sess *session, payload []byte) {
	delay := p.env.Upcalls.Receive(sess.addr, sess, payload)
	if delay > 0 {
		sess.receiveDelayUntil = time.Now().Add(delay)
	}
}

func (p *Plugin) writeToSession(sess *session, frame []byte) {
	if err := p.device.WriteFrame(frame, sess.mac); err != nil {
		p.logger.Warn("write failed", slog.Any("error", err), slog.String("mac", sess.mac.String()))
		if p.env.Stats != nil {
			p.env.Stats.IncCounter(bearerName, "fragment_send_failed")
		}
		return
	}
	if p.env.Stats != nil {
		p.env.Stats.IncBytesSent(bearerName, true, len(frame))
	}
}

func (p *Plugin) sendRawTo(mac net.HardwareAddr, frame []byte) {
	if err := p.device.WriteFrame(frame, mac); err != nil {
		p.logger.Warn("ack write failed", slog.Any("error", err))
	}
}

// scheduleFragmentTimer (re)arms the single fragment-retransmission timer
// to fire at the soonest nextAck/deadline across the in-flight queue.
func (p *Plugin) scheduleFragmentTimer() {
	if p.fragmentTimer != nil {
		p.fragmentTimer()
		p.fragmentTimer = nil
	}
	if len(p.inflight) == 0 {
		return
	}

	p.sortInFlightByNextAck()
	wake := p.inflight[0].nextAck
	if p.inflight[0].deadline.Before(wake) {
		wake = p.inflight[0].deadline
	}
	d := time.Until(wake)
	if d < 0 {
		d = 0
	}
	p.fragmentTimer = p.actor.AfterFunc(d, p.emitTick)
}

// scheduleReassemblySweep periodically evicts expired reassembly entries
// (§4.3 step 4), the same posted-timer pattern the xu bearer uses for its
// keepalive sweep (§11.3).
func (p *Plugin) scheduleReassemblySweep(ctx context.Context) {
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		p.evictExpiredReassemblies(time.Now())
		p.actor.AfterFunc(reassemblyTimeout, tick)
	}
	_ = p.actor.Post(ctx, tick)
}

// scheduleValidationSweep periodically evicts stale address-validation
// entries (§4.4), mirroring scheduleReassemblySweep's posted-timer shape.
func (p *Plugin) scheduleValidationSweep(ctx context.Context) {
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		p.validation.Evict(time.Now())
		p.actor.AfterFunc(validationSweepInterval, tick)
	}
	_ = p.actor.Post(ctx, tick)
}
