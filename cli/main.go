// Command dispatchctl is a small client for the dispatch HTTP API and
// attach stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dispatchctl",
	Short: "Create, attach to and control run sessions",
	Long: `dispatchctl talks to a dispatch server. Sessions can be created,
listed, attached to over a WebSocket, sent input, closed and resumed.`,
	SilenceUsage: true,
}

var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "addr", "a", envOr("DISPATCH_ADDR", "http://localhost:8080"), "dispatch server address")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
