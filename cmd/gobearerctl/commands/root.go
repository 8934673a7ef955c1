// Package commands implements the gobearerctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the client used for every request to the control API.
	httpClient *http.Client

	// serverAddr is the daemon's control server address (host:port).
	serverAddr string

	// bearerName selects which bearer's control surface to talk to, since
	// the daemon mounts one control server per configured bearer.
	bearerName string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for gobearerctl.
var rootCmd = &cobra.Command{
	Use:   "gobearerctl",
	Short: "CLI client for the gobearerd daemon",
	Long:  "gobearerctl talks to a running gobearerd daemon's JSON control API to inspect and manage bearer sessions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"gobearerd control server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&bearerName, "bearer", "xu",
		"bearer to target: xu or wlan")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
	rootCmd.AddCommand(addressBookCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// baseURL returns the control API's base URL for the currently selected
// bearer, e.g. "http://localhost:50051/v1/xu".
func baseURL() string {
	return "http://" + serverAddr + "/v1/" + bearerName
}
