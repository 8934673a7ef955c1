// Command gobearerctl is the operator CLI for gobearerd: it talks to a
// running daemon's JSON control API to list sessions, inspect one, force a
// disconnect, or print the session event feed.
package main

import "github.com/dantte-lp/gobearer/cmd/gobearerctl/commands"

func main() {
	commands.Execute()
}
