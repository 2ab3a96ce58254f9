// Command streamchat serves streaming chat turns over HTTP and websockets
// and can run a single turn from the terminal.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/streamchat/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "streamchat",
	Short: "Streaming answer assembly service",
	Long: `Streamchat relays user messages to a generation service, assembles the
streamed answer into a single turn and reveals it at a steady pace.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
