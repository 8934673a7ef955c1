package wireaddr_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

func TestDatagramRoundTripIPv4(t *testing.T) {
	ip := netip.MustParseAddr("127.0.0.1")
	addr, err := wireaddr.NewDatagramAddress(0, ip, 2086, wireaddr.OriginNone)
	if err != nil {
		t.Fatalf("NewDatagramAddress: %v", err)
	}
	if len(addr.Raw) != wireaddr.LenIPv4 {
		t.Fatalf("expected %d bytes, got %d", wireaddr.LenIPv4, len(addr.Raw))
	}

	s, err := wireaddr.ToString(addr)
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	if s != "xu.0.127.0.0.1:2086" {
		t.Fatalf("unexpected pretty form: %q", s)
	}

	back, err := wireaddr.FromString(s)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if !back.Equal(addr) {
		t.Fatalf("round trip mismatch: %x vs %x", back.Raw, addr.Raw)
	}
}

func TestDatagramRoundTripIPv6(t *testing.T) {
	ip := netip.MustParseAddr("2001:db8::1")
	addr, err := wireaddr.NewDatagramAddress(7, ip, 4001, wireaddr.OriginInbound)
	if err != nil {
		t.Fatalf("NewDatagramAddress: %v", err)
	}
	if len(addr.Raw) != wireaddr.LenIPv6 {
		t.Fatalf("expected %d bytes, got %d", wireaddr.LenIPv6, len(addr.Raw))
	}

	s, err := wireaddr.ToString(addr)
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}

	back, err := wireaddr.FromString(s)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	if !back.Equal(addr) {
		t.Fatalf("round trip mismatch: %x vs %x", back.Raw, addr.Raw)
	}
}

func TestZeroPortRejected(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.1")
	_, err := wireaddr.NewDatagramAddress(0, ip, 0, wireaddr.OriginNone)
	if err == nil {
		t.Fatal("expected error for port 0")
	}
}

func TestWLANMulticastBroadcastRejected(t *testing.T) {
	cases := []struct {
		mac  string
		want bool
	}{
		{"ff:ff:ff:ff:ff:ff", true},
		{"01:00:5e:00:00:01", true}, // multicast bit set
		{"02:11:22:33:44:55", false},
	}
	for _, tc := range cases {
		mac, err := net.ParseMAC(tc.mac)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.mac, err)
		}
		if got := wireaddr.IsMulticastOrBroadcast(mac); got != tc.want {
			t.Errorf("IsMulticastOrBroadcast(%s) = %v, want %v", tc.mac, got, tc.want)
		}
	}
}

func TestAddressEqualityIgnoresOrigin(t *testing.T) {
	ip := netip.MustParseAddr("192.168.1.1")
	a, _ := wireaddr.NewDatagramAddress(0, ip, 1234, wireaddr.OriginNone)
	b, _ := wireaddr.NewDatagramAddress(0, ip, 1234, wireaddr.OriginInbound)
	if !a.Equal(b) {
		t.Fatal("addresses differing only in origin should be equal")
	}
}

func TestClassifyIP(t *testing.T) {
	cases := map[string]wireaddr.Scope{
		"127.0.0.1":   wireaddr.ScopeLoopback,
		"10.1.2.3":    wireaddr.ScopeLAN,
		"192.168.1.1": wireaddr.ScopeLAN,
		"8.8.8.8":     wireaddr.ScopeWAN,
	}
	for s, want := range cases {
		got := wireaddr.ClassifyIP(netip.MustParseAddr(s))
		if got != want {
			t.Errorf("ClassifyIP(%s) = %v, want %v", s, got, want)
		}
	}
}
