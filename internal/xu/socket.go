package xu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/dantte-lp/gobearer/internal/plugin"
)

// ErrUnexpectedConnType is returned when net.ListenConfig.ListenPacket
// hands back a concrete type other than *net.UDPConn, which should not
// happen for "udp4"/"udp6" networks but is checked defensively, matching
// the reference sender's own defensive type assertion.
var ErrUnexpectedConnType = errors.New("listen packet returned unexpected connection type")

// socket is the minimal datagram transport the bearer depends on. A real
// *net.UDPConn satisfies it directly enough via the udpSocket adapter
// below; tests substitute an in-memory fake.
type socket interface {
	ReadFrom(buf []byte) (n int, from netip.AddrPort, err error)
	WriteTo(buf []byte, to netip.AddrPort) (n int, err error)
	LocalPort() uint16
	Close() error
}

// udpSocket adapts *net.UDPConn to the socket interface.
type udpSocket struct {
	conn *net.UDPConn
	addr netip.Addr
	port uint16
}

// listenUDP opens a dual-purpose UDP socket bound to addr:port. port == 0
// asks the kernel for an ephemeral port, but the bearer's own bind logic
// (bindWithRetry) always supplies an explicit candidate from the
// configured ephemeral range (§6: [32000, 65537)) so that repeated
// restarts can reacquire the same port.
func listenUDP(ctx context.Context, addr netip.Addr, port uint16) (*udpSocket, error) {
	network := "udp4"
	if addr.Is6() && !addr.Is4In6() {
		network = "udp6"
	}

	ap := netip.AddrPortFrom(addr, port)
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, network, ap.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", ap, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen udp %s: %w: %w", ap, ErrUnexpectedConnType, closeErr)
	}

	boundPort := port
	if laddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		boundPort = uint16(laddr.Port)
	}

	return &udpSocket{conn: conn, addr: addr, port: boundPort}, nil
}

func (s *udpSocket) ReadFrom(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addr, nil
}

func (s *udpSocket) WriteTo(buf []byte, to netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(buf, to)
}

func (s *udpSocket) LocalPort() uint16 { return s.port }

// LocalAddrPort returns the bound local (address, port) pair, used to
// register this socket with the NAT mapper.
func (s *udpSocket) LocalAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(s.addr, s.port)
}

// netipAddrPortFrom is a small naming wrapper over netip.AddrPortFrom used
// at session lookup call sites for readability.
func netipAddrPortFrom(ip netip.Addr, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(ip, port)
}

func (s *udpSocket) Close() error { return s.conn.Close() }

// ephemeralLow and ephemeralHigh bound the xu bearer's own port-selection
// range (§6: [32000, 65537), clamped here to the valid 16-bit port space
// so the upper bound never overflows uint16), distinct from and narrower
// than the kernel's ephemeral range so that repeated bind failures have a
// bounded, enumerable space to retry within.
const (
	ephemeralLow  uint32 = 32000
	ephemeralHigh uint32 = 65536 // exclusive; spec's 65537 clamped to 2^16
	bindRetries          = 10
)

// bindWithRetry attempts to bind addr at preferredPort; on failure (port
// already in use) it retries up to bindRetries times with a pseudo-random
// candidate drawn from [ephemeralLow, ephemeralHigh), matching the
// reference ephemeral-port acquisition loop's bounded-retry shape.
func bindWithRetry(ctx context.Context, addr netip.Addr, preferredPort uint16, rng func() uint32) (*udpSocket, error) {
	if preferredPort != 0 {
		sock, err := listenUDP(ctx, addr, preferredPort)
		if err == nil {
			return sock, nil
		}
	}

	var lastErr error
	for i := 0; i < bindRetries; i++ {
		candidate := uint16(ephemeralLow + (rng() % (ephemeralHigh - ephemeralLow)))
		sock, err := listenUDP(ctx, addr, candidate)
		if err == nil {
			return sock, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("bind %s after %d retries: %w: %w", addr, bindRetries, lastErr, plugin.ErrSocketAbsent)
}
