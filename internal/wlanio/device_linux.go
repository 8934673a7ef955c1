//go:build linux

package wlanio

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// LinuxDevice implements Device using an AF_PACKET raw socket bound to one
// network interface, configured the same way internal/netio configures its
// UDP sockets: create the socket, then apply options through direct
// golang.org/x/sys/unix calls rather than net.ListenConfig's narrower
// surface.
type LinuxDevice struct {
	fd      int
	ifIndex int
	mac     net.HardwareAddr
	mtu     int

	mu     sync.Mutex
	closed bool
}

// htons converts a 16-bit value from host to network byte order. The
// kernel's ETH_P_ALL protocol argument to socket(2) must be supplied in
// network byte order.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// NewLinuxDevice opens a raw packet socket bound to ifName. mtu bounds the
// largest frame WriteFrame will accept; the caller supplies the bearer's
// link MTU (WLAN_MTU, §4.3).
func NewLinuxDevice(ifName string, mtu int) (*LinuxDevice, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("wlan device %s: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("wlan device %s: socket: %w", ifName, err)
	}

	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("wlan device %s: bind: %w", ifName, err)
	}

	return &LinuxDevice{
		fd:      fd,
		ifIndex: iface.Index,
		mac:     iface.HardwareAddr,
		mtu:     mtu,
	}, nil
}

// ReadFrame implements Device.
func (d *LinuxDevice) ReadFrame(buf []byte) (int, net.HardwareAddr, error) {
	n, from, err := unix.Recvfrom(d.fd, buf, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("wlan device read: %w", err)
	}

	var src net.HardwareAddr
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		src = net.HardwareAddr(ll.Addr[:ll.Halen])
	}
	return n, src, nil
}

// WriteFrame implements Device.
func (d *LinuxDevice) WriteFrame(frame []byte, to net.HardwareAddr) error {
	if len(frame) > d.mtu {
		return fmt.Errorf("wlan device write: %d bytes: %w", len(frame), ErrFrameTooLarge)
	}

	var addr unix.SockaddrLinklayer
	addr.Ifindex = d.ifIndex
	addr.Halen = uint8(len(to))
	copy(addr.Addr[:], to)

	if err := unix.Sendto(d.fd, frame, 0, &addr); err != nil {
		return fmt.Errorf("wlan device write: %w", err)
	}
	return nil
}

// LocalMAC implements Device.
func (d *LinuxDevice) LocalMAC() net.HardwareAddr {
	return d.mac
}

// Close implements Device.
func (d *LinuxDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("wlan device close: %w", err)
	}
	return nil
}
