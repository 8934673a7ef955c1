package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/gobearer/internal/server"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of session snapshots in the requested format.
func formatSessions(sessions []server.SessionSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatSession renders a single session snapshot in the requested format.
func formatSession(session server.SessionSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(session)
	case formatTable:
		return formatSessionDetail(session), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSessionsTable(sessions []server.SessionSnapshot) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tADDRESS\tNETWORK")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Peer, s.Address, s.Network)
	}

	w.Flush()
	return buf.String()
}

func formatSessionDetail(s server.SessionSnapshot) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Peer:\t%s\n", s.Peer)
	fmt.Fprintf(w, "Address:\t%s\n", s.Address)
	fmt.Fprintf(w, "Network:\t%s\n", s.Network)

	w.Flush()
	return buf.String()
}

// formatAddressBook renders a slice of address-book entries in the
// requested format.
func formatAddressBook(entries []server.AddressBookEntry, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(entries)
	case formatTable:
		return formatAddressBookTable(entries), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatAddressBookTable(entries []server.AddressBookEntry) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tADDRESS\tVALIDATED\tVALIDATED_UNTIL\tLATENCY")

	for _, e := range entries {
		validUntil := ""
		if !e.ValidatedUntil.IsZero() {
			validUntil = e.ValidatedUntil.Format("2006-01-02T15:04:05Z07:00")
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", e.Peer, e.Address, e.Validated, validUntil, e.Latency)
	}

	w.Flush()
	return buf.String()
}

// formatEvent renders a streamed session event in the requested format.
func formatEvent(event sessionEvent, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(event)
	case formatTable:
		return formatEventTable(event), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatEventTable(event sessionEvent) string {
	return fmt.Sprintf("[%s] %s  peer=%s  addr=%s  network=%s",
		event.At.Format("2006-01-02T15:04:05Z07:00"),
		event.Type,
		event.Session.Peer,
		event.Session.Address,
		event.Session.Network,
	)
}

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
