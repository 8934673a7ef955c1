// Package plugin defines the capability contract every bearer exposes to
// the overlay (§4.1), plus the typed environment the overlay injects at
// construction. A plugin handle is any type implementing Bearer; the
// overlay is generic over implementations, so dynamic loading (the
// function-pointer table in the original design) becomes an orthogonal
// deployment concern (§9).
package plugin

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// Sentinel errors shared by every bearer implementation. Bearer-specific
// errors wrap one of these so callers can errors.Is against a stable set
// regardless of which bearer produced the failure.
var (
	ErrPeerUnknown        = errors.New("peer unknown to this bearer")
	ErrSocketAbsent       = errors.New("bearer socket not available")
	ErrAddressMalformed   = errors.New("address malformed for this bearer")
	ErrAddressWrongLength = errors.New("address has the wrong byte length")
	ErrPortZero           = errors.New("address port is 0, not a valid session address")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum datagram size")
	ErrPayloadEmpty       = errors.New("payload must be non-empty")
	ErrSessionNotFound    = errors.New("session not found")
	ErrConfigInvalid      = errors.New("bearer configuration invalid")
)

// Session is a live (peer, address) record owned by exactly one Bearer.
// Concrete bearers embed their own richer session struct; this is the
// subset the overlay and the control surface need to see.
type Session interface {
	Peer() peerid.ID
	Address() wireaddr.Address
	Network() wireaddr.Scope
}

// SendContinuation is invoked exactly once per send, carrying the result.
// err is nil on success; callers use errors.Is against the sentinels above
// to classify failures. This is expressed as a callback rather than a
// channel because the contract requires synchronous, exactly-once,
// ordered-before-teardown delivery (§5 "Cancellation"): a callback makes
// that ordering visible in the type signature.
type SendContinuation func(target peerid.ID, err error, sentBytes, wireBytes int)

// Bearer is the capability set every plugin exposes polymorphically to the
// overlay (§4.1). All methods run on the bearer's own actor goroutine or
// synchronously dispatch onto it; see SPEC_FULL.md §5 for the concurrency
// model.
type Bearer interface {
	// Send queues bytes for delivery to session's peer. cont is invoked
	// exactly once. Returns a wire-byte estimate, or -1 on a hard
	// address-format error detected before any I/O is attempted.
	Send(ctx context.Context, session Session, payload []byte, deadline time.Time, cont SendContinuation) int

	// GetSession returns the live session for addr, creating one if none
	// exists. Returns an error if addr is malformed or carries port 0.
	GetSession(ctx context.Context, addr wireaddr.Address) (Session, error)

	// DisconnectPeer tears down every session to peer. Pending
	// continuations fire with a non-nil error before any SessionEnd
	// upcall for the affected sessions.
	DisconnectPeer(ctx context.Context, peer peerid.ID) error

	// DisconnectSession tears down a single session. Idempotent.
	DisconnectSession(ctx context.Context, session Session) error

	// CheckAddress reports whether raw is a plausible address for this
	// bearer that also maps to this host (consulting the NAT table where
	// applicable).
	CheckAddress(raw []byte) error

	// AddressToString renders addr in the shared human-readable form (§6).
	AddressToString(addr wireaddr.Address) (string, error)

	// StringToAddress parses the shared human-readable form back into an
	// Address for this bearer.
	StringToAddress(s string) (wireaddr.Address, error)

	// QueryKeepaliveFactor returns the number of keepalive periods the
	// idle timeout is divided into (§6: 15 for the xu bearer).
	QueryKeepaliveFactor() int

	// GetNetworkForAddress classifies addr's reachability scope.
	GetNetworkForAddress(addr wireaddr.Address) wireaddr.Scope

	// UpdateSessionTimeout slides session's idle deadline to now + the
	// bearer's idle timeout.
	UpdateSessionTimeout(ctx context.Context, session Session) error

	// AddressPrettyPrinter streams zero or more human-readable renderings
	// of addr to cb, terminated by a final cb("", nil) call; cb("", err)
	// on a malformed address. If numeric is false, a reverse DNS name is
	// attempted first and streamed ahead of the numeric form.
	AddressPrettyPrinter(ctx context.Context, addr wireaddr.Address, numeric bool, deadline time.Time, cb PrettyPrintCallback)

	// SetupMonitor registers cb for session state-change notifications.
	// Registration immediately replays every currently live session as
	// MonitorInit then MonitorUp, followed by a MonitorDone(nil) sentinel
	// marking the replay complete; live events follow as sessions come up
	// or tear down. The returned func cancels the subscription.
	SetupMonitor(cb MonitorCallback) (cancel func())

	// Name returns the plugin name used as the address tag (§3).
	Name() string
}

// MonitorState describes one event delivered to a session monitor
// registered via Bearer.SetupMonitor (§4.1).
type MonitorState int

const (
	// MonitorInit marks a session that already existed at registration
	// time, replayed ahead of MonitorUp for the same session.
	MonitorInit MonitorState = iota
	// MonitorUp marks a session entering the live state, whether freshly
	// created or replayed at registration.
	MonitorUp
	// MonitorDone marks a session being torn down, or — carrying a nil
	// Session — the end of the initial replay.
	MonitorDone
)

// String implements fmt.Stringer for log output.
func (s MonitorState) String() string {
	switch s {
	case MonitorInit:
		return "init"
	case MonitorUp:
		return "up"
	case MonitorDone:
		return "done"
	default:
		return "unknown"
	}
}

// MonitorCallback receives session state-change notifications registered
// via Bearer.SetupMonitor.
type MonitorCallback func(state MonitorState, session Session)

// PrettyPrintCallback receives each candidate human-readable address
// string in turn from Bearer.AddressPrettyPrinter.
type PrettyPrintCallback func(s string, err error)

// ErrNoReverseName indicates a ReverseResolver has no reverse-DNS name for
// an address.
var ErrNoReverseName = errors.New("no reverse dns name for address")

// ReverseResolver is the DNS resolver external collaborator consulted by
// AddressPrettyPrinter when numeric is false. The cryptographic identity
// and name-resolution layers are out of scope (§1), so every bearer
// defaults to StubReverseResolver, which always falls back to the numeric
// form.
type ReverseResolver interface {
	ReverseLookup(ctx context.Context, addr wireaddr.Address) (string, error)
}

// StubReverseResolver is a no-op ReverseResolver.
type StubReverseResolver struct {
	logger *slog.Logger
}

// NewStubReverseResolver creates a no-op reverse resolver.
func NewStubReverseResolver(logger *slog.Logger) *StubReverseResolver {
	return &StubReverseResolver{logger: logger.With(slog.String("component", "plugin.reverse_resolver_stub"))}
}

// ReverseLookup implements ReverseResolver by always reporting
// ErrNoReverseName.
func (r *StubReverseResolver) ReverseLookup(ctx context.Context, addr wireaddr.Address) (string, error) {
	return "", ErrNoReverseName
}

var _ ReverseResolver = (*StubReverseResolver)(nil)

// Upcalls is the set of callbacks the overlay's connectivity service
// injects into a bearer at construction (§4.1). All four fire on the same
// task context that invoked the plugin's read handler; a bearer MUST NOT
// re-enter itself synchronously from within an upcall (§4.1).
type Upcalls struct {
	// Receive delivers a fully framed message from session. The returned
	// duration is an advisory pacing delay the overlay wants the bearer
	// to honor before scheduling the next read from this session.
	Receive func(addr wireaddr.Address, session Session, msg []byte) time.Duration

	// SessionStart fires when a new session is created from an inbound
	// message (never for outbound-only GetSession calls).
	SessionStart func(addr wireaddr.Address, session Session, scope wireaddr.Scope)

	// SessionEnd fires when a session is torn down, for any reason.
	SessionEnd func(addr wireaddr.Address, session Session)

	// NotifyAddress reports a local address becoming reachable (add=true)
	// or unreachable (add=false), after NAT translation (§4.2).
	NotifyAddress func(add bool, addr wireaddr.Address)
}

// StatsSink is the statistics counter sink (§1, §6, §10.4). A concrete
// implementation forwards to the Prometheus collector in internal/metrics;
// tests can use a no-op or counting stub.
type StatsSink interface {
	IncBytesSent(bearer string, ok bool, n int)
	IncBytesReceived(bearer string, n int)
	IncMessagesSent(bearer string, ok bool)
	SetActiveSessions(bearer string, n int)
	IncCounter(bearer, name string)
}

// Environment is the typed context the overlay hands a bearer at
// construction: its own identity, the injected upcalls, and the
// statistics sink. This replaces the "void* cls" closure convention (§9)
// with typed ownership — no untyped round-tripping.
type Environment struct {
	Self    peerid.ID
	Upcalls Upcalls
	Stats   StatsSink
}

// LocalBindSpec describes one local socket the xu bearer should bind,
// resolved from configuration (§10.3).
type LocalBindSpec struct {
	Addr netip.Addr
	Port uint16
}
