package xu_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
	"github.com/dantte-lp/gobearer/internal/xu"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPeer(tag byte) peerid.ID {
	var id peerid.ID
	for i := range id {
		id[i] = tag
	}
	return id
}

// newTestPlugin builds a xu.Plugin bound to loopback on an
// ephemeral-range port and wires its Receive upcall into received.
func newTestPlugin(t *testing.T, self peerid.ID, received chan<- []byte) *xu.Plugin {
	t.Helper()

	env := plugin.Environment{
		Self: self,
		Upcalls: plugin.Upcalls{
			Receive: func(addr wireaddr.Address, s plugin.Session, msg []byte) time.Duration {
				cp := make([]byte, len(msg))
				copy(cp, msg)
				received <- cp
				return 0
			},
		},
	}

	cfg := xu.Config{
		BindAddrs:   []netip.Addr{netip.MustParseAddr("127.0.0.1")},
		IdleTimeout: time.Minute,
		DisableIPv6: true,
	}

	p, err := xu.New(cfg, env, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("xu.New: %v", err)
	}
	return p
}

func TestSendDeliversPayloadAcrossLoopbackSockets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	sender := newTestPeer(0xAA)
	receiver := newTestPeer(0xBB)

	senderPlugin := newTestPlugin(t, sender, make(chan []byte, 1))
	receiverPlugin := newTestPlugin(t, receiver, received)

	go senderPlugin.Run(ctx)
	go receiverPlugin.Run(ctx)

	// Give both read loops a moment to start (Run launches goroutines
	// asynchronously; there is no explicit "ready" signal to wait on, so a
	// short settle delay keeps this test simple rather than adding a
	// synchronization channel solely for test visibility).
	time.Sleep(20 * time.Millisecond)

	recvSocket, err := receiverPlugin.LocalAddr(false)
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	recvWireAddr, err := wireaddr.NewDatagramAddress(0, netip.MustParseAddr("127.0.0.1"), recvSocket.Port(), wireaddr.OriginNone)
	if err != nil {
		t.Fatalf("NewDatagramAddress: %v", err)
	}

	sess, err := senderPlugin.GetSession(ctx, recvWireAddr)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	done := make(chan struct{})
	var sendErr error
	// The receiving session's tokenizer expects {size:u16, type:u16, body}
	// framed messages and hands each body to Receive.
	framed := []byte{0x00, 0x08, 0x00, 0x01, 'p', 'i', 'n', 'g'}
	senderPlugin.Send(ctx, sess, framed, time.Time{}, func(target peerid.ID, err error, sent, wire int) {
		sendErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send continuation never fired")
	}
	if sendErr != nil {
		t.Fatalf("send failed: %v", sendErr)
	}

	select {
	case msg := <-received:
		if string(msg) != "ping" {
			t.Fatalf("got %q, want %q", msg, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never got the message")
	}
}
