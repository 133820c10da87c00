// Package cmd provides the parley CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - migrate: apply pending database migrations and exit
//   - version: show version and effective configuration
//
// serve installs signal handling and shuts the HTTP server down
// gracefully via context cancellation.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - streaming chat relay server",
	Long: `Parley is a multi-user chat relay backed by PostgreSQL.

It exposes a JSON API with Server-Sent Events streaming: clients
register, create agents with versioned system prompts, and hold
conversations that are relayed token by token from an
OpenAI-compatible completion provider.

Run "parley serve" to start the HTTP server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
