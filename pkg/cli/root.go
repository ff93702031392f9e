package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// jsonOutput switches commands to machine-readable output.
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "polyd",
	Short: "polyd serves many protocols on one port",
	Long: `polyd accepts TCP connections, detects the protocol from the first bytes
and hands each connection to HTTP/1, HTTP/2, WebSocket, gRPC or MQTT.
HTTP/3 runs on a separate UDP listener.

Configuration can be provided via a YAML file and overridden with flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")

	initServeCmd()
	initCallCmd()
	initVersionCmd()
}
