// Package xu implements the datagram bearer (§4.2): a UDP-based plugin
// that frames overlay messages inside a small envelope, multiplexes STUN
// traffic away from the framed-message path, and maintains per-peer
// sessions with a sliding idle timeout.
package xu

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/dantte-lp/gobearer/internal/natmap"
	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/sched"
	"github.com/dantte-lp/gobearer/internal/tokenizer"
	"github.com/dantte-lp/gobearer/internal/validation"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// validationSweepInterval sets how often expired validation entries are
// swept (§11.3: every 30 minutes).
const validationSweepInterval = 30 * time.Minute

// bearerName is the plugin name used as the address tag (§3).
const bearerName = wireaddr.PluginXU

// Defaults per §6.
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultKeepaliveFactor = 15
	MaxDatagramSize        = maxDatagram
)

// Config configures one Plugin instance (§10.3 bearers.xu.*).
type Config struct {
	BindAddrs       []netip.Addr
	Port            uint16
	IdleTimeout     time.Duration
	KeepaliveFactor int
	DisableIPv6     bool
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

func (c Config) keepaliveInterval() time.Duration {
	return c.idleTimeout() / time.Duration(c.keepaliveFactor())
}

// Plugin is the datagram bearer. All mutable state is owned by actor and
// must only be mutated from tasks running on it (§5).
type Plugin struct {
	cfg    Config
	env    plugin.Environment
	logger *slog.Logger
	actor  *sched.Actor

	natMapper natmap.Mapper

	socketsMu sync.Mutex // guards sockets only during startup/shutdown
	sockets   []*udpSocket

	// sessions is keyed by peer identity; a peer may have more than one
	// concurrent session (e.g. across address families) per §4.1.
	sessions map[peerid.ID][]*session

	validation *validation.Engine

	// monitors holds the callbacks registered via SetupMonitor, keyed by
	// an opaque subscription id so cancel() can remove just one.
	monitors      map[uint64]plugin.MonitorCallback
	nextMonitorID uint64

	resolver plugin.ReverseResolver

	readCancel context.CancelFunc
	readWG     sync.WaitGroup
	natWG      sync.WaitGroup
}

var _ plugin.Bearer = (*Plugin)(nil)

// New constructs a Plugin and binds its sockets. It does not start the
// actor or read loops; call Run for that.
//
// signer is the cryptographic identity layer's Sign/Verify collaborator
// for address validation (§4.4); a nil signer disables PING/PONG handling.
func New(cfg Config, env plugin.Environment, natMapper natmap.Mapper, signer validation.Signer, logger *slog.Logger) (*Plugin, error) {
	if len(cfg.BindAddrs) == 0 {
		return nil, fmt.Errorf("xu: %w: at least one bind address required", plugin.ErrConfigInvalid)
	}
	if natMapper == nil {
		natMapper = natmap.NewStubMapper(logger)
	}

	p := &Plugin{
		cfg:       cfg,
		env:       env,
		logger:    logger.With(slog.String("bearer", bearerName)),
		actor:     sched.NewActor(256),
		natMapper: natMapper,
		sessions:  make(map[peerid.ID][]*session),
		monitors:  make(map[uint64]plugin.MonitorCallback),
		resolver:  plugin.NewStubReverseResolver(logger),
	}
	if signer != nil {
		p.validation = validation.NewEngine(env.Self, signer, p.sendValidationFrame, bearerName, env.Stats, validation.Config{})
	}

	for _, addr := range cfg.BindAddrs {
		if addr.Is6() && !addr.Is4In6() && cfg.DisableIPv6 {
			continue
		}
		sock, err := bindWithRetry(context.Background(), addr, cfg.Port, randomUint32)
		if err != nil {
			p.closeSockets()
			return nil, fmt.Errorf("xu: bind %s: %w", addr, err)
		}
		p.sockets = append(p.sockets, sock)
	}
	if len(p.sockets) == 0 {
		return nil, fmt.Errorf("xu: %w: no sockets bound (IPv6 disabled and no IPv4 bind address given?)", plugin.ErrConfigInvalid)
	}

	return p, nil
}

// randomUint32 draws a port-selection candidate from crypto/rand,
// matching the reference ephemeral-port picker's use of a
// non-predictable source rather than math/rand's default seed.
func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// Run starts the actor goroutine and one read loop per bound socket. It
// blocks until ctx is canceled, then drains outstanding reads before
// returning.
func (p *Plugin) Run(ctx context.Context) {
	readCtx, cancel := context.WithCancel(ctx)
	p.readCancel = cancel

	actorDone := make(chan struct{})
	go func() {
		defer close(actorDone)
		p.actor.Run(ctx)
	}()

	for _, sock := range p.sockets {
		p.readWG.Add(1)
		go p.readLoop(readCtx, sock)
	}

	natUnregister := p.registerNATMapper(readCtx)

	p.scheduleKeepaliveSweep(ctx)
	if p.validation != nil {
		p.scheduleValidationSweep(ctx)
	}

	<-ctx.Done()
	cancel()
	// Closing the sockets unblocks any goroutine parked in a blocking
	// ReadFrom; canceling readCtx alone would not, since the standard
	// library does not select on a context for blocking socket I/O.
	p.closeSockets()
	p.readWG.Wait()
	for _, unregister := range natUnregister {
		unregister()
	}
	p.natWG.Wait()
	<-actorDone
}

// registerNATMapper registers every bound socket with the NAT mapper and
// spawns a goroutine per socket draining its event channel onto the actor
// (§4.2 "Sockets": "Successful binds are registered with the NAT mapper").
// It returns the unregister funcs the caller must invoke during shutdown.
func (p *Plugin) registerNATMapper(ctx context.Context) []func() {
	unregisterFuncs := make([]func(), 0, len(p.sockets))
	for _, sock := range p.sockets {
		events, unregister, err := p.natMapper.Register(ctx, sock.LocalAddrPort())
		if err != nil {
			p.logger.Warn("NAT mapper registration failed", slog.Any("error", err),
				slog.String("local", sock.LocalAddrPort().String()))
			continue
		}
		unregisterFuncs = append(unregisterFuncs, unregister)

		p.natWG.Add(1)
		go func(events <-chan natmap.Event) {
			defer p.natWG.Done()
			for ev := range events {
				event := ev
				if postErr := p.actor.Post(ctx, func() {
					p.handleNATEvent(event)
				}); postErr != nil {
					return
				}
			}
		}(events)
	}
	return unregisterFuncs
}

// handleNATEvent runs on the actor goroutine. It ignores mapping changes
// that are not externally reachable and otherwise translates the public
// address into a bearer-address and fires NotifyAddress (§4.2: "Events of
// class loopback / LAN / LAN-private are ignored").
func (p *Plugin) handleNATEvent(ev natmap.Event) {
	if ev.Class == wireaddr.ScopeLoopback || ev.Class == wireaddr.ScopeLAN || ev.Class == wireaddr.ScopeUnspecified {
		return
	}
	addr, err := wireaddr.NewDatagramAddress(0, ev.PublicAddr.Addr(), ev.PublicAddr.Port(), wireaddr.OriginNone)
	if err != nil {
		p.logger.Debug("NAT-reported address not representable", slog.Any("error", err))
		return
	}
	if p.env.Upcalls.NotifyAddress != nil {
		p.env.Upcalls.NotifyAddress(ev.Add, addr)
	}
}

// LocalAddr returns the bound address of the first socket matching
// wantV6, for callers (tests, the control surface) that need to know
// which port the kernel actually assigned.
func (p *Plugin) LocalAddr(wantV6 bool) (netip.AddrPort, error) {
	for _, sock := range p.sockets {
		if sockIsV6(sock) == wantV6 {
			return sock.LocalAddrPort(), nil
		}
	}
	return netip.AddrPort{}, plugin.ErrSocketAbsent
}

func (p *Plugin) closeSockets() {
	p.socketsMu.Lock()
	defer p.socketsMu.Unlock()
	for _, sock := range p.sockets {
		_ = sock.Close()
	}
}

// readLoop owns one socket's recvfrom loop (an external-collaborator
// suspension point per §5); decoded datagrams are posted onto the actor
// so all session-table mutation stays single-threaded.
func (p *Plugin) readLoop(ctx context.Context, sock *udpSocket) {
	defer p.readWG.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, from, err := sock.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("read failed", slog.Any("error", err))
			continue
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		if p.natMapper.HandleSTUNPacket(datagram, from) {
			continue
		}

		postErr := p.actor.Post(ctx, func() {
			p.handleDatagram(datagram, from)
		})
		if postErr != nil {
			return
		}
	}
}

// handleDatagram runs on the actor goroutine. It parses the shared
// {size,type} header, dispatches to the envelope decoder, and delivers
// the payload via the Receive upcall.
func (p *Plugin) handleDatagram(datagram []byte, from netip.AddrPort) {
	if len(datagram) < headerLen {
		p.logger.Debug("short datagram dropped", slog.Int("len", len(datagram)))
		return
	}
	declaredSize := binary.BigEndian.Uint16(datagram[0:2])
	if int(declaredSize) != len(datagram) {
		p.logger.Debug("datagram size mismatch dropped",
			slog.Int("declared", int(declaredSize)), slog.Int("received", len(datagram)),
			slog.String("from", from.String()))
		if p.env.Stats != nil {
			p.env.Stats.IncCounter(bearerName, "bad_datagrams")
		}
		return
	}
	msgType := binary.BigEndian.Uint16(datagram[2:4])

	frame, err := decodeFrame(msgType, datagram[headerLen:])
	if err != nil {
		p.logger.Debug("malformed datagram dropped", slog.Any("error", err), slog.String("from", from.String()))
		if p.env.Stats != nil {
			p.env.Stats.IncCounter(bearerName, "bad_datagrams")
		}
		return
	}

	addr, err := p.addressFromRemote(from)
	if err != nil {
		p.logger.Debug("unrepresentable remote address", slog.Any("error", err))
		return
	}

	sess := p.lookupOrCreate(frame.Sender, addr, from)
	p.refreshDeadline(sess)

	if p.env.Stats != nil {
		p.env.Stats.IncBytesReceived(bearerName, len(datagram))
	}

	if frame.Type == msgTypeKeepalive {
		return
	}
	if len(frame.Payload) == 0 {
		return
	}
	if p.validation != nil && validation.IsValidationMessage(frame.Payload) {
		if err := p.validation.HandleReceive(sess.peer, addr, frame.Payload, time.Now()); err != nil {
			p.logger.Debug("validation message rejected", slog.Any("error", err))
		}
		return
	}

	messages, tokErr := sess.tok.Push(frame.Payload)
	for _, msg := range messages {
		p.deliver(sess, addr, msg.Body)
	}
	if tokErr != nil {
		p.logger.Debug("session tokenizer framing error, closing session", slog.Any("error", tokErr))
		if p.env.Stats != nil {
			p.env.Stats.IncCounter(bearerName, "fatal_framing_error")
		}
		p.teardownSession(sess)
	}
}

// deliver invokes the Receive upcall for one fully framed message,
// honoring any advisory pacing delay ("flow-delay-from-peer") the
// previous Receive call returned by deferring this one through the actor
// rather than blocking it (§5 "Suspension points").
func (p *Plugin) deliver(sess *session, addr wireaddr.Address, body []byte) {
	if p.env.Upcalls.Receive == nil {
		return
	}
	if wait := time.Until(sess.receiveDelayUntil); wait > 0 {
		p.actor.AfterFunc(wait, func() {
			p.deliverNow(sess, addr, body)
		})
		return
	}
	p.deliverNow(sess, addr, body)
}

func (p *Plugin) deliverNow(sess *session, addr wireaddr.Address, body []byte) {
	delay := p.env.Upcalls.Receive(addr, sess, body)
	if delay > 0 {
		sess.receiveDelayUntil = time.Now().Add(delay)
	}
}

// sendValidationFrame implements validation.Sender: it resolves addr back
// to a UDP remote and writes an already-framed PING/PONG straight to the
// socket, bypassing session lookup entirely the same way a keepalive does.
func (p *Plugin) sendValidationFrame(peer peerid.ID, addr wireaddr.Address, payload []byte) {
	_, ip, port, err := wireaddr.DecodeDatagram(addr.Raw)
	if err != nil {
		p.logger.Debug("dropping validation frame for unresolvable address", slog.Any("error", err))
		return
	}
	frame, err := encodeFrame(p.env.Self, payload)
	if err != nil {
		p.logger.Debug("failed to frame validation payload", slog.Any("error", err))
		return
	}
	if _, err := p.writeTo(netip.AddrPortFrom(ip, port), frame); err != nil {
		p.logger.Warn("validation frame write failed", slog.Any("error", err))
	}
}

func (p *Plugin) addressFromRemote(from netip.AddrPort) (wireaddr.Address, error) {
	return wireaddr.NewDatagramAddress(0, from.Addr(), from.Port(), wireaddr.OriginInbound)
}

// lookupOrCreate returns the existing session for (peer, remote) or
// creates and registers a new one, firing SessionStart (§4.1: fires for
// the inbound read path; GetSession's outbound path uses createSession
// directly with notify=false since the peer identity is not yet known).
func (p *Plugin) lookupOrCreate(peer peerid.ID, addr wireaddr.Address, remote netip.AddrPort) *session {
	for _, s := range p.sessions[peer] {
		if s.remote == remote {
			return s
		}
	}
	return p.createSession(peer, addr, remote, true)
}

func (p *Plugin) createSession(peer peerid.ID, addr wireaddr.Address, remote netip.AddrPort, notify bool) *session {
	s := &session{
		peer:   peer,
		addr:   addr,
		remote: remote,
		scope:  wireaddr.ClassifyIP(remote.Addr()),
		tok:    tokenizer.New(),
	}
	p.sessions[peer] = append(p.sessions[peer], s)
	p.armIdleTimeout(s)

	if p.env.Stats != nil {
		p.env.Stats.SetActiveSessions(bearerName, p.sessionCount())
	}
	if notify && p.env.Upcalls.SessionStart != nil {
		p.env.Upcalls.SessionStart(addr, s, s.scope)
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

// refreshDeadline slides a session's idle timer and advances its
// last-transmit-time, preserving the max(now, previous) monotonicity
// invariant even if called out of order.
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
		p.expireSession(captured)
	})
}

func (p *Plugin) expireSession(s *session) {
	if s.pendingDestroy {
		return
	}
	p.teardownSession(s)
}

// teardownSession runs on the actor goroutine and removes s from the
// session table, firing SessionEnd exactly once (§4.1).
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

	if p.env.Stats != nil {
		p.env.Stats.SetActiveSessions(bearerName, p.sessionCount())
	}
	if p.env.Upcalls.SessionEnd != nil {
		p.env.Upcalls.SessionEnd(s.addr, s)
	}
	p.notifyMonitors(plugin.MonitorDone, s)
}

// scheduleKeepaliveSweep emits a zero-payload keepalive frame to every
// live session every idle_timeout/keepalive_factor (§11.3 supplemented
// feature, not present in the distilled spec but required so idle peers
// do not silently time out a live path).
func (p *Plugin) scheduleKeepaliveSweep(ctx context.Context) {
	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		p.sendKeepalives()
		p.actor.AfterFunc(p.cfg.keepaliveInterval(), tick)
	}
	_ = p.actor.Post(ctx, tick)
}

// scheduleValidationSweep periodically evicts stale address-validation
// entries (§4.4).
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

func (p *Plugin) sendKeepalives() {
	frame := make([]byte, headerLen+reservedLen+peerid.Size)
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(frame)))
	binary.BigEndian.PutUint16(frame[2:4], uint16(msgTypeKeepalive))
	copy(frame[headerLen+reservedLen:], p.env.Self[:])

	for _, list := range p.sessions {
		for _, s := range list {
			p.writeTo(s.remote, frame)
		}
	}
}

func (p *Plugin) writeTo(to netip.AddrPort, frame []byte) (int, error) {
	sock := p.socketFor(to)
	if sock == nil {
		return 0, plugin.ErrSocketAbsent
	}
	return sock.WriteTo(frame, to)
}

// socketFor picks the bound socket matching the destination's address
// family, since listenUDP opens an explicit "udp4"/"udp6" socket per
// bind address rather than one dual-stack socket.
func (p *Plugin) socketFor(to netip.AddrPort) *udpSocket {
	wantV6 := to.Addr().Is6() && !to.Addr().Is4In6()
	for _, sock := range p.sockets {
		if sockIsV6(sock) == wantV6 {
			return sock
		}
	}
	if len(p.sockets) > 0 {
		return p.sockets[0]
	}
	return nil
}

func sockIsV6(sock *udpSocket) bool {
	addr := sock.conn.LocalAddr()
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.IP.To4() == nil
	}
	return false
}
