package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sqrl-server",
	Short: "SQRL authentication server",
	Long: `sqrl-server hosts the server side of the SQRL (Secure Quick Reliable
Login) protocol: it issues nut-bearing login URLs, verifies signed client
envelopes, dispatches identity commands, and answers login polls from
browsers waiting on a cross-device login.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
