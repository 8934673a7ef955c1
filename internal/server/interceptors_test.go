package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dantte-lp/gobearer/internal/peerid"

	"github.com/dantte-lp/gobearer/internal/server"
)

// panicRegistry panics from DisconnectPeer, used to exercise
// RecoveryMiddleware.
type panicRegistry struct {
	fakeRegistry
}

func (panicRegistry) DisconnectPeer(context.Context, peerid.ID) error {
	panic("intentional test panic")
}

func TestRecoveryMiddlewareConvertsPanicToInternalError(t *testing.T) {
	reg := &panicRegistry{}
	path, handler := server.New(reg, testLogger())
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var peer peerid.ID
	peer[0] = 0x01

	resp, err := http.Post(ts.URL+path+"sessions/"+peer.String()+"/disconnect", "", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestLoggingMiddlewareDoesNotAlterResponse(t *testing.T) {
	reg := &fakeRegistry{}
	path, handler := server.New(reg, testLogger())
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + path + "sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
