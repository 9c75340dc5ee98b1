/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the evaluation lock engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     Run the HTTP API, reviewing sessions and straggler sweeper
  init-db   Create (or with --reset, empty) the SQLite schema

STARTUP SEQUENCE (serve):
  1. Load config (defaults, YAML file, EVALLOCK_* env)
  2. Initialize SQLite store
  3. Open the notification channel (in-process hub or NATS)
  4. Build workflow, session registry and API handler
  5. Start the straggler sweeper
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, close sessions and the channel
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/evallock.db

  # Run with in-memory database and NATS fan-out
  EVALLOCK_TRANSPORT=nats ./server serve --db ":memory:"

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
  - config/loader.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	DBPath     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand creates the root command.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "evallock",
		Short:         "Evaluation lock and unlock-request workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file (default: $EVALLOCK_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path, overrides config")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newInitDBCommand(opts))

	return cmd
}
