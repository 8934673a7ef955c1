package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errPeerRequired is returned when a command that needs a peer argument
// doesn't get one.
var errPeerRequired = errors.New("peer argument is required")

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage bearer sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionDisconnectCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions on the selected bearer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := listSessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <peer>",
		Short: "Show details of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := getSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			out, err := formatSession(sess, outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func sessionDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <peer>",
		Short: "Force-disconnect a peer's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errPeerRequired
			}

			if err := disconnectPeer(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("disconnect peer: %w", err)
			}

			fmt.Printf("Peer %s disconnected.\n", args[0])
			return nil
		},
	}
}
