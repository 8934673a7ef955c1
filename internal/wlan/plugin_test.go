package wlan_test

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
	"github.com/dantte-lp/gobearer/internal/wlan"
	"github.com/dantte-lp/gobearer/internal/wlanio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// loopbackDevice is a channel-backed wlanio.Device standing in for a real
// AF_PACKET socket, the same role MockPacketConn plays for internal/netio's
// UDP-based tests: two instances wired to each other let fragmentation and
// reassembly be exercised end to end without CAP_NET_RAW.
type loopbackDevice struct {
	mac  net.HardwareAddr
	mtu  int
	in   chan loopbackFrame
	peer *loopbackDevice
}

type loopbackFrame struct {
	data []byte
	from net.HardwareAddr
}

var _ wlanio.Device = (*loopbackDevice)(nil)

func newLoopbackPair(macA, macB net.HardwareAddr, mtu int) (*loopbackDevice, *loopbackDevice) {
	a := &loopbackDevice{mac: macA, mtu: mtu, in: make(chan loopbackFrame, 256)}
	b := &loopbackDevice{mac: macB, mtu: mtu, in: make(chan loopbackFrame, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

func (d *loopbackDevice) ReadFrame(buf []byte) (int, net.HardwareAddr, error) {
	f, ok := <-d.in
	if !ok {
		return 0, nil, wlanio.ErrDeviceClosed
	}
	return copy(buf, f.data), f.from, nil
}

func (d *loopbackDevice) WriteFrame(frame []byte, _ net.HardwareAddr) error {
	if len(frame) > d.mtu {
		return wlanio.ErrFrameTooLarge
	}
	cp := append([]byte(nil), frame...)
	select {
	case d.peer.in <- loopbackFrame{data: cp, from: d.mac}:
	default:
	}
	return nil
}

func (d *loopbackDevice) LocalMAC() net.HardwareAddr { return d.mac }

func (d *loopbackDevice) Close() error {
	close(d.in)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func wlanAddress(t *testing.T, mac net.HardwareAddr) wireaddr.Address {
	t.Helper()
	raw, err := wireaddr.EncodeMAC(mac)
	if err != nil {
		t.Fatalf("EncodeMAC: %v", err)
	}
	return wireaddr.Address{Plugin: wireaddr.PluginWLAN, Raw: raw}
}

func newTestPlugin(t *testing.T, self peerid.ID, device wlanio.Device, received chan<- []byte) *wlan.Plugin {
	t.Helper()
	env := plugin.Environment{
		Self: self,
		Upcalls: plugin.Upcalls{
			Receive: func(_ wireaddr.Address, _ plugin.Session, msg []byte) time.Duration {
				cp := append([]byte(nil), msg...)
				received <- cp
				return 0
			},
		},
		Stats: noopStats{},
	}
	p, err := wlan.New(wlan.Config{}, env, device, nil, testLogger())
	if err != nil {
		t.Fatalf("wlan.New: %v", err)
	}
	return p
}

type noopStats struct{}

func (noopStats) IncBytesSent(string, bool, int)   {}
func (noopStats) IncBytesReceived(string, int)     {}
func (noopStats) IncMessagesSent(string, bool)     {}
func (noopStats) SetActiveSessions(string, int)    {}
func (noopStats) IncCounter(string, string)        {}

func TestSendDeliversSmallPayloadUnfragmented(t *testing.T) {
	macA := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	macB := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	devA, devB := newLoopbackPair(macA, macB, 3000)

	received := make(chan []byte, 1)
	sender := newTestPlugin(t, peerid.ID{}, devA, make(chan []byte, 1))
	receiver := newTestPlugin(t, peerid.ID{}, devB, received)

	ctx, cancel := context.WithCancel(context.Background())
	go sender.Run(ctx)
	go receiver.Run(ctx)
	defer func() {
		cancel()
		time.Sleep(20 * time.Millisecond)
	}()

	sess, err := sender.GetSession(ctx, wlanAddress(t, macB))
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	done := make(chan struct{})
	n := sender.Send(ctx, sess, []byte("hello wlan"), time.Time{}, func(_ peerid.ID, sendErr error, _, _ int) {
		if sendErr != nil {
			t.Errorf("send continuation error: %v", sendErr)
		}
		close(done)
	})
	if n < 0 {
		t.Fatalf("Send returned %d, want >= 0", n)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send continuation never fired")
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, []byte("hello wlan")) {
			t.Fatalf("got %q, want %q", got, "hello wlan")
		}
	case <-time.After(time.Second):
		t.Fatal("receiver never got the message")
	}
}

func TestSendFragmentsAndReassemblesLargePayload(t *testing.T) {
	macA := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x03}
	macB := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x04}
	devA, devB := newLoopbackPair(macA, macB, 3000)

	received := make(chan []byte, 1)
	sender := newTestPlugin(t, peerid.ID{}, devA, make(chan []byte, 1))
	receiver := newTestPlugin(t, peerid.ID{}, devB, received)

	ctx, cancel := context.WithCancel(context.Background())
	go sender.Run(ctx)
	go receiver.Run(ctx)
	defer func() {
		cancel()
		time.Sleep(20 * time.Millisecond)
	}()

	sess, err := sender.GetSession(ctx, wlanAddress(t, macB))
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	payload := bytes.Repeat([]byte("abcdefgh"), 1000) // well over one MTU
	sender.Send(ctx, sess, payload, time.Time{}, func(_ peerid.ID, sendErr error, _, _ int) {
		if sendErr != nil {
			t.Errorf("send continuation error: %v", sendErr)
		}
	})

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receiver never reassembled the fragmented message")
	}
}
