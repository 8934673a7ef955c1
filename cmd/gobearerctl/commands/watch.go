package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobearer/internal/server"
)

// sessionEvent mirrors the ndjson line shape server.handleWatchSessions emits.
type sessionEvent struct {
	Type    string                 `json:"type"`
	Session server.SessionSnapshot `json:"session"`
	At      time.Time              `json:"at"`
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream session events from the selected bearer",
		Long:  "Connects to the gobearerd control API and prints its ndjson session feed (one event per current session); exits when the server ends the feed or on Ctrl+C.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return streamSessionEvents(ctx)
		},
	}

	return cmd
}

func streamSessionEvents(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL()+"/sessions/watch", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("watch session events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("watch session events: server returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var event sessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}

		out, err := formatEvent(event, outputFormat)
		if err != nil {
			return fmt.Errorf("format event: %w", err)
		}
		fmt.Println(out)
	}

	if err := scanner.Err(); err != nil {
		// Context cancellation (Ctrl+C) is expected, not an error.
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("stream error: %w", err)
	}

	return nil
}
