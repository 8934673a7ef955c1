// Package server implements the control surface for a running bearer: a
// small JSON API plus a mounted gRPC health endpoint. It favors hand
// written JSON handlers over a generated connect/protobuf service
// because no generated request/response types exist for this domain.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dantte-lp/gobearer/internal/peerid"
	"github.com/dantte-lp/gobearer/internal/plugin"
	"github.com/dantte-lp/gobearer/internal/validation"
	"github.com/dantte-lp/gobearer/internal/wireaddr"
)

// ErrMissingIdentifier indicates neither peer nor address was given to
// GetSession.
var ErrMissingIdentifier = errors.New("identifier must be peer or address")

// SessionSnapshot is the JSON-serializable view of one live session.
type SessionSnapshot struct {
	Peer    string `json:"peer"`
	Address string `json:"address"`
	Network string `json:"network"`
}

// AddressBookEntry is the JSON-serializable view of one address-validation
// table entry (§11.2 "address book").
type AddressBookEntry struct {
	Peer           string        `json:"peer"`
	Address        string        `json:"address"`
	Validated      bool          `json:"validated"`
	ValidatedUntil time.Time     `json:"validated_until,omitempty"`
	Latency        time.Duration `json:"latency_ns,omitempty"`
}

// Registry is the read/write surface BearerServer needs from a running
// bearer. *xu.Plugin and *wlan.Plugin satisfy it via plugin.Bearer plus a
// session-listing and address-book-listing method the control server adds
// on top of the core capability contract.
type Registry interface {
	plugin.Bearer
	Sessions() []plugin.Session
	AddressBook(ctx context.Context) []validation.Entry
}

// BearerServer is a thin adapter between the HTTP/JSON API and a
// Registry, in the same "one method per operation, delegate to the
// domain object" shape as the reference server's RPC handlers.
type BearerServer struct {
	bearer Registry
	logger *slog.Logger
}

// New creates a BearerServer and returns the http.Handler a caller mounts
// under its own chosen path prefix.
func New(bearer Registry, logger *slog.Logger) (string, http.Handler) {
	s := &BearerServer{
		bearer: bearer,
		logger: logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{peer}", s.handleGetSession)
	mux.HandleFunc("POST /sessions/{peer}/disconnect", s.handleDisconnectPeer)
	mux.HandleFunc("GET /sessions/watch", s.handleWatchSessions)
	mux.HandleFunc("GET /addressbook", s.handleListAddressBook)

	wrapped := RecoveryMiddleware(s.logger)(LoggingMiddleware(s.logger)(mux))
	return "/v1/" + bearer.Name() + "/", http.StripPrefix("/v1/"+bearer.Name(), wrapped)
}

func (s *BearerServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.logger.InfoContext(r.Context(), "list sessions")

	sessions := s.bearer.Sessions()
	out := make([]SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, snapshotFromSession(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetSession resolves {peer} either as a peer identity or, failing
// that, as a plugin-specific address string (§11.2: "by peer identity or
// by address string"), so a caller that only has a HELLO's advertised
// address can still look up the session it maps to.
func (s *BearerServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("peer")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, ErrMissingIdentifier)
		return
	}

	if peer, err := peerid.Parse(identifier); err == nil {
		for _, sess := range s.bearer.Sessions() {
			if sess.Peer().Equal(peer) {
				writeJSON(w, http.StatusOK, snapshotFromSession(sess))
				return
			}
		}
		writeError(w, http.StatusNotFound, plugin.ErrSessionNotFound)
		return
	}

	addr, err := wireaddr.FromString(identifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse identifier: %w", err))
		return
	}
	for _, sess := range s.bearer.Sessions() {
		if sess.Address().Equal(addr) {
			writeJSON(w, http.StatusOK, snapshotFromSession(sess))
			return
		}
	}
	writeError(w, http.StatusNotFound, plugin.ErrSessionNotFound)
}

// handleDisconnectPeer tears down sessions identified by {peer}, which may
// name either a peer identity (every session for that peer is torn down)
// or a single address string (only the session bound to that address is
// torn down), matching the session- or peer-scoped disconnect the control
// surface offers (§11.2).
func (s *BearerServer) handleDisconnectPeer(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("peer")

	if peer, err := peerid.Parse(identifier); err == nil {
		if err := s.bearer.DisconnectPeer(r.Context(), peer); err != nil {
			writeMappedError(w, err, "disconnect peer")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	addr, err := wireaddr.FromString(identifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse identifier: %w", err))
		return
	}
	for _, sess := range s.bearer.Sessions() {
		if sess.Address().Equal(addr) {
			if err := s.bearer.DisconnectSession(r.Context(), sess); err != nil {
				writeMappedError(w, err, "disconnect session")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, plugin.ErrSessionNotFound)
}

// handleListAddressBook returns every tracked address-validation entry
// (§11.2 "address book").
func (s *BearerServer) handleListAddressBook(w http.ResponseWriter, r *http.Request) {
	entries := s.bearer.AddressBook(r.Context())
	out := make([]AddressBookEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, snapshotFromEntry(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleWatchSessions streams one JSON object per line: the current
// session snapshot first, per the reference WatchSessionEvents's
// include_current replay, though this surface has no live tail source
// yet (the bearer does not currently publish a session-event channel),
// so only the initial replay is implemented.
func (s *BearerServer) handleWatchSessions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, sess := range s.bearer.Sessions() {
		event := struct {
			Type    string          `json:"type"`
			Session SessionSnapshot `json:"session"`
			At      time.Time       `json:"at"`
		}{Type: "session_added", Session: snapshotFromSession(sess), At: time.Now()}
		if err := enc.Encode(event); err != nil {
			return
		}
	}
	flusher.Flush()
}

func snapshotFromSession(sess plugin.Session) SessionSnapshot {
	addrStr, err := wireaddr.ToString(sess.Address())
	if err != nil {
		addrStr = ""
	}
	return SessionSnapshot{
		Peer:    sess.Peer().String(),
		Address: addrStr,
		Network: sess.Network().String(),
	}
}

func snapshotFromEntry(entry validation.Entry) AddressBookEntry {
	addrStr, err := wireaddr.ToString(entry.Addr)
	if err != nil {
		addrStr = ""
	}
	now := time.Now()
	return AddressBookEntry{
		Peer:           entry.Peer.String(),
		Address:        addrStr,
		Validated:      entry.Validated(now),
		ValidatedUntil: entry.ValidatedUntil,
		Latency:        entry.Latency,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// writeMappedError translates a domain sentinel into an HTTP status, the
// same role the reference mapManagerError plays for connect.Code.
func writeMappedError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, plugin.ErrSessionNotFound), errors.Is(err, plugin.ErrPeerUnknown):
		writeError(w, http.StatusNotFound, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, plugin.ErrAddressMalformed),
		errors.Is(err, plugin.ErrAddressWrongLength),
		errors.Is(err, plugin.ErrPortZero),
		errors.Is(err, plugin.ErrConfigInvalid):
		writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, fmt.Errorf("%s: %w", operation, err))
	default:
		writeError(w, http.StatusInternalServerError, fmt.Errorf("%s: %w", operation, err))
	}
}
