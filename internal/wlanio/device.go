// Package wlanio implements link-layer frame I/O for the WLAN bearer: a
// Device abstraction over raw Ethernet frame send/receive, mirroring the
// shape internal/netio's PacketConn gives the datagram bearer's UDP
// sockets but operating on whole frames addressed by MAC rather than on
// UDP datagrams addressed by (ip, port).
package wlanio

import (
	"errors"
	"net"
)

// ErrDeviceClosed indicates an operation on a closed Device.
var ErrDeviceClosed = errors.New("wlan device closed")

// ErrFrameTooLarge indicates a caller tried to write a frame exceeding the
// device's configured MTU.
var ErrFrameTooLarge = errors.New("wlan frame exceeds device MTU")

// Device abstracts link-layer frame send/receive on one network interface.
// Implementations bind to a named interface (e.g. a raw AF_PACKET socket
// on Linux); tests use a loopback pipe instead of real hardware, the same
// split internal/netio draws between LinuxPacketConn and MockPacketConn.
type Device interface {
	// ReadFrame reads one link-layer frame into buf and returns its
	// length and the peer hardware address that sent it, when the
	// underlying transport can report one.
	ReadFrame(buf []byte) (n int, from net.HardwareAddr, err error)

	// WriteFrame sends frame to the given destination hardware address.
	WriteFrame(frame []byte, to net.HardwareAddr) error

	// LocalMAC returns this device's own hardware address.
	LocalMAC() net.HardwareAddr

	// Close releases the underlying socket.
	Close() error
}
