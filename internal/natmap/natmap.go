// Package natmap defines the NAT mapper external collaborator (§1, §4.2):
// it reports (add|remove, public address, address-class) events for
// sockets registered with it, and classifies STUN-shaped datagrams on the
// shared socket read path so the bearer can route them away from the
// framed-message parser.
package natmap

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// stunMagicCookie is the fixed STUN magic cookie (RFC 5389 §6), found at
// byte offset 4 of a STUN message header.
const stunMagicCookie = 0x2112A442

const stunHeaderLen = 20

// IsSTUN reports whether datagram looks like a STUN message: at least a
// full STUN header, with the magic cookie in the expected position and
// the two high bits of the first byte clear (RFC 5389 §6 requires the
// first two bits to be 0 to disambiguate STUN from other UDP-multiplexed
// protocols).
func IsSTUN(datagram []byte) bool {
	if len(datagram) < stunHeaderLen {
		return false
	}
	if datagram[0]&0xC0 != 0 {
		return false
	}
	return binary.BigEndian.Uint32(datagram[4:8]) == stunMagicCookie
}

// Event is one NAT mapping change delivered for a registered local socket.
type Event struct {
	Add        bool
	PublicAddr netip.AddrPort
	Class      wireaddr.Scope
}

// Mapper is the NAT mapper contract the xu bearer registers its sockets
// with. Implementations may use STUN, UPnP, PCP, or a static mapping;
// the bearer only depends on the Event stream.
type Mapper interface {
	// Register starts tracking localAddr's public mapping. events
	// delivers Add/Class events until the returned unregister func is
	// called, after which the channel is closed.
	Register(ctx context.Context, localAddr netip.AddrPort) (events <-chan Event, unregister func(), err error)

	// HandleSTUNPacket consumes a STUN-shaped datagram read from the
	// shared socket (§4.2 step 1) and returns true if it was recognized
	// and handled, in which case the bearer's read loop simply rearms.
	HandleSTUNPacket(datagram []byte, from netip.AddrPort) bool
}

// StubMapper is a no-op Mapper used when no platform-specific NAT
// traversal mechanism is configured. It never emits mapping events and
// reports every STUN-shaped datagram as handled (dropping it), matching
// the reference interface monitor's "stub implementation" idiom.
type StubMapper struct {
	logger *slog.Logger
}

// NewStubMapper creates a no-op NAT mapper.
func NewStubMapper(logger *slog.Logger) *StubMapper {
	return &StubMapper{logger: logger.With(slog.String("component", "natmap.stub"))}
}

// Register implements Mapper. It returns a channel that is immediately
// closed and a no-op unregister func.
func (m *StubMapper) Register(ctx context.Context, localAddr netip.AddrPort) (<-chan Event, func(), error) {
	ch := make(chan Event)
	close(ch)
	m.logger.Info("stub NAT mapper registered socket (no-op)", slog.String("local", localAddr.String()))
	return ch, func() {}, nil
}

// HandleSTUNPacket implements Mapper by classifying and discarding.
func (m *StubMapper) HandleSTUNPacket(datagram []byte, from netip.AddrPort) bool {
	if !IsSTUN(datagram) {
		return false
	}
	m.logger.Debug("dropped STUN datagram (stub mapper)", slog.String("from", from.String()))
	return true
}

var _ Mapper = (*StubMapper)(nil)
