// Ongea — multi-tenant messaging gateway session coordinator.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ongea",
	Short: "Ongea — session lifecycle coordinator for messaging gateway bridges.",
	Long: `Ongea coordinates messaging gateway sessions across processes. It holds a
TTL lease per tenant so at most one process serves a gateway connection,
drives the connection state machine from bridge events, keeps a sorted
conversation cache in sync, and fans events out to push subscribers.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
