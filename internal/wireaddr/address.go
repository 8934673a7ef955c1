// Package wireaddr implements the binary address formats and the
// human-readable pretty-printer shared by every bearer: the IPv4/IPv6
// datagram address shapes used by the xu plugin and the 6-byte MAC address
// used by the wlan plugin.
package wireaddr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Sentinel errors for address parsing and validation.
var (
	ErrMalformed     = errors.New("malformed address")
	ErrWrongLength   = errors.New("wrong address length for plugin")
	ErrZeroPort      = errors.New("port 0 is not a valid session address")
	ErrBadFormat     = errors.New("address string does not match <plugin>.<options>.<host>:<port>")
	ErrUnknownPlugin = errors.New("unknown plugin name")
)

// Plugin name constants, used both as the wire tag and the human-readable
// address prefix.
const (
	PluginXU   = "xu"
	PluginWLAN = "wlan"
)

// Byte lengths for the wire-format address shapes (§3, §6).
const (
	LenIPv4 = 10 // options(4) + ip(4) + port(2)
	LenIPv6 = 22 // options(4) + ip(16) + port(2)
	LenMAC  = 6
)

// Origin records how an address was learned, per §3's origin-hint.
type Origin uint8

const (
	// OriginNone means the address's provenance was not tracked.
	OriginNone Origin = iota
	// OriginInbound means the address was first observed on an inbound packet.
	OriginInbound
	// OriginOutboundValidation means the address came from a PONG's
	// observed-sender-address field during validation.
	OriginOutboundValidation
)

// Address is a tagged pair of (plugin name, bearer-specific bytes) plus an
// origin hint, per §3. Equality is byte equality of the whole tuple
// including any options field embedded in Raw.
type Address struct {
	Plugin string
	Raw    []byte
	Origin Origin
}

// Equal reports whether two addresses are identical in plugin and bytes.
// Origin is provenance metadata, not part of address identity, so it is
// deliberately excluded from comparison.
func (a Address) Equal(b Address) bool {
	if a.Plugin != b.Plugin || len(a.Raw) != len(b.Raw) {
		return false
	}
	for i := range a.Raw {
		if a.Raw[i] != b.Raw[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of a, so callers can hold onto an Address past
// the lifetime of the buffer it was decoded from.
func (a Address) Clone() Address {
	raw := make([]byte, len(a.Raw))
	copy(raw, a.Raw)
	return Address{Plugin: a.Plugin, Raw: raw, Origin: a.Origin}
}

// -----------------------------------------------------------------------
// IPv4 / IPv6 datagram addresses (xu plugin)
// -----------------------------------------------------------------------

// EncodeIPv4 packs options, a 4-byte IPv4 address, and a port into the
// 10-byte wire shape from §3.
func EncodeIPv4(options uint32, ip [4]byte, port uint16) []byte {
	buf := make([]byte, LenIPv4)
	binary.BigEndian.PutUint32(buf[0:4], options)
	copy(buf[4:8], ip[:])
	binary.BigEndian.PutUint16(buf[8:10], port)
	return buf
}

// EncodeIPv6 packs options, a 16-byte IPv6 address, and a port into the
// 22-byte wire shape from §3.
func EncodeIPv6(options uint32, ip [16]byte, port uint16) []byte {
	buf := make([]byte, LenIPv6)
	binary.BigEndian.PutUint32(buf[0:4], options)
	copy(buf[4:20], ip[:])
	binary.BigEndian.PutUint16(buf[20:22], port)
	return buf
}

// DecodeDatagram unpacks an xu wire address of either shape (distinguished
// solely by length, as the wire format defines no explicit family tag).
// Returns the options, the IP, and the port.
func DecodeDatagram(raw []byte) (options uint32, ip netip.Addr, port uint16, err error) {
	switch len(raw) {
	case LenIPv4:
		options = binary.BigEndian.Uint32(raw[0:4])
		var a [4]byte
		copy(a[:], raw[4:8])
		ip = netip.AddrFrom4(a)
		port = binary.BigEndian.Uint16(raw[8:10])
	case LenIPv6:
		options = binary.BigEndian.Uint32(raw[0:4])
		var a [16]byte
		copy(a[:], raw[4:20])
		ip = netip.AddrFrom16(a)
		port = binary.BigEndian.Uint16(raw[20:22])
	default:
		return 0, netip.Addr{}, 0, fmt.Errorf("decode datagram address: %d bytes: %w", len(raw), ErrWrongLength)
	}
	return options, ip, port, nil
}

// NewDatagramAddress builds an Address for the xu plugin from an
// already-resolved netip.Addr, choosing the IPv4 or IPv6 wire shape
// according to the address family.
func NewDatagramAddress(options uint32, ip netip.Addr, port uint16, origin Origin) (Address, error) {
	if port == 0 {
		return Address{}, ErrZeroPort
	}
	var raw []byte
	switch {
	case ip.Is4():
		raw = EncodeIPv4(options, ip.As4(), port)
	case ip.Is6():
		raw = EncodeIPv6(options, ip.As16(), port)
	default:
		return Address{}, fmt.Errorf("new datagram address: %w", ErrMalformed)
	}
	return Address{Plugin: PluginXU, Raw: raw, Origin: origin}, nil
}

// -----------------------------------------------------------------------
// WLAN MAC addresses (wlan plugin)
// -----------------------------------------------------------------------

// EncodeMAC validates and copies a 6-byte hardware address into wire form.
func EncodeMAC(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != LenMAC {
		return nil, fmt.Errorf("encode MAC: %d bytes: %w", len(mac), ErrWrongLength)
	}
	raw := make([]byte, LenMAC)
	copy(raw, mac)
	return raw, nil
}

// DecodeMAC validates the length of raw and returns it as a HardwareAddr.
func DecodeMAC(raw []byte) (net.HardwareAddr, error) {
	if len(raw) != LenMAC {
		return nil, fmt.Errorf("decode MAC: %d bytes: %w", len(raw), ErrWrongLength)
	}
	mac := make(net.HardwareAddr, LenMAC)
	copy(mac, raw)
	return mac, nil
}

// IsMulticastOrBroadcast reports whether mac is a multicast address (the
// I/G bit set in the first octet) or the all-ones broadcast address. See
// the WLAN check_address redesign decision in SPEC_FULL.md §9: the
// original source accepted these unconditionally.
func IsMulticastOrBroadcast(mac net.HardwareAddr) bool {
	if len(mac) != LenMAC {
		return false
	}
	if mac[0]&0x01 != 0 {
		return true
	}
	broadcast := true
	for _, b := range mac {
		if b != 0xff {
			broadcast = false
			break
		}
	}
	return broadcast
}

// -----------------------------------------------------------------------
// Human-readable pretty-printer (§6)
// -----------------------------------------------------------------------

// ToString renders a as "<plugin>.<options-decimal>.<ip-or-mac>:<port>",
// wrapping IPv6 literals in brackets. This is the numeric form; reverse DNS
// (the non-numeric pretty-printer mode) is layered on top by callers since
// it requires an external resolver (§1's out-of-scope DNS resolver).
func ToString(a Address) (string, error) {
	switch a.Plugin {
	case PluginXU:
		options, ip, port, err := DecodeDatagram(a.Raw)
		if err != nil {
			return "", fmt.Errorf("address to string: %w", err)
		}
		host := ip.String()
		if ip.Is6() {
			host = "[" + host + "]"
		}
		return fmt.Sprintf("%s.%d.%s:%d", a.Plugin, options, host, port), nil
	case PluginWLAN:
		mac, err := DecodeMAC(a.Raw)
		if err != nil {
			return "", fmt.Errorf("address to string: %w", err)
		}
		return fmt.Sprintf("%s.0.%s:0", a.Plugin, mac.String()), nil
	default:
		return "", fmt.Errorf("address to string: plugin %q: %w", a.Plugin, ErrUnknownPlugin)
	}
}

// FromString parses the "<plugin>.<options-decimal>.<ip-or-mac>:<port>"
// format back into an Address. Round-tripping through ToString must
// reproduce the identical byte tuple (§8 property law).
func FromString(s string) (Address, error) {
	firstDot := strings.IndexByte(s, '.')
	if firstDot < 0 {
		return Address{}, fmt.Errorf("string to address %q: %w", s, ErrBadFormat)
	}
	plugin := s[:firstDot]
	rest := s[firstDot+1:]

	secondDot := strings.IndexByte(rest, '.')
	if secondDot < 0 {
		return Address{}, fmt.Errorf("string to address %q: %w", s, ErrBadFormat)
	}
	optionsStr := rest[:secondDot]
	hostport := rest[secondDot+1:]

	options, err := strconv.ParseUint(optionsStr, 10, 32)
	if err != nil {
		return Address{}, fmt.Errorf("string to address %q: options: %w", s, ErrBadFormat)
	}

	switch plugin {
	case PluginXU:
		host, portStr, err := net.SplitHostPort(hostport)
		if err != nil {
			return Address{}, fmt.Errorf("string to address %q: %w", s, ErrBadFormat)
		}
		ip, err := netip.ParseAddr(host)
		if err != nil {
			return Address{}, fmt.Errorf("string to address %q: ip: %w", s, ErrBadFormat)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("string to address %q: port: %w", s, ErrBadFormat)
		}
		return NewDatagramAddress(uint32(options), ip, uint16(port), OriginNone)
	case PluginWLAN:
		host, _, err := net.SplitHostPort(hostport)
		if err != nil {
			// ToString emits "<mac>:0"; with a colon-separated MAC that is
			// six colons, which SplitHostPort rejects, so strip the port
			// by hand. A bare MAC is tolerated too.
			host = hostport
			if strings.Count(hostport, ":") == LenMAC {
				host = hostport[:strings.LastIndexByte(hostport, ':')]
			}
		}
		mac, err := net.ParseMAC(host)
		if err != nil {
			return Address{}, fmt.Errorf("string to address %q: mac: %w", s, ErrBadFormat)
		}
		raw, err := EncodeMAC(mac)
		if err != nil {
			return Address{}, fmt.Errorf("string to address %q: %w", s, err)
		}
		return Address{Plugin: PluginWLAN, Raw: raw, Origin: OriginNone}, nil
	default:
		return Address{}, fmt.Errorf("string to address %q: plugin %q: %w", s, plugin, ErrUnknownPlugin)
	}
}

// -----------------------------------------------------------------------
// Network scope classification
// -----------------------------------------------------------------------

// Scope is a coarse classification of an address's reachability, used by
// higher layers for path selection (§3, glossary).
type Scope uint8

const (
	ScopeUnspecified Scope = iota
	ScopeLoopback
	ScopeLAN
	ScopeWAN
)

// String implements fmt.Stringer for log output.
func (s Scope) String() string {
	switch s {
	case ScopeLoopback:
		return "loopback"
	case ScopeLAN:
		return "lan"
	case ScopeWAN:
		return "wan"
	default:
		return "unspecified"
	}
}

// ClassifyIP returns the network scope of ip: loopback, private/link-local
// (LAN), or anything else (WAN).
func ClassifyIP(ip netip.Addr) Scope {
	switch {
	case !ip.IsValid():
		return ScopeUnspecified
	case ip.IsLoopback():
		return ScopeLoopback
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ScopeLAN
	default:
		return ScopeWAN
	}
}
