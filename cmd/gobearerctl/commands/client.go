package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dantte-lp/gobearer/internal/server"
)

// errorResponse mirrors the shape server.writeError emits.
type errorResponse struct {
	Error string `json:"error"`
}

// apiError wraps a non-2xx response from the control API.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.status, e.msg)
}

func listSessions(ctx context.Context) ([]server.SessionSnapshot, error) {
	var out []server.SessionSnapshot
	if err := doJSON(ctx, http.MethodGet, baseURL()+"/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func getSession(ctx context.Context, peer string) (server.SessionSnapshot, error) {
	var out server.SessionSnapshot
	err := doJSON(ctx, http.MethodGet, baseURL()+"/sessions/"+peer, &out)
	return out, err
}

func disconnectPeer(ctx context.Context, peer string) error {
	return doJSON(ctx, http.MethodPost, baseURL()+"/sessions/"+peer+"/disconnect", nil)
}

func listAddressBook(ctx context.Context) ([]server.AddressBookEntry, error) {
	var out []server.AddressBookEntry
	if err := doJSON(ctx, http.MethodGet, baseURL()+"/addressbook", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doJSON issues a request against the control API and, on success, decodes
// the JSON body into dst (a pointer). dst may be nil for responses with no
// body (e.g. 204 No Content).
func doJSON(ctx context.Context, method, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		msg := string(body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &apiError{status: resp.StatusCode, msg: msg}
	}

	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
