package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vinayprograms/ollamakit/config"
)

var rootCmd = &cobra.Command{
	Use:   "ollamachat",
	Short: "Chat with models served by Ollama",
	Long: `ollamachat streams conversations with a local Ollama server, archives
them for later search and exposes runtime metrics.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	addSettingsFlags(rootCmd.PersistentFlags())
}

// addSettingsFlags registers the flags loadSettings reads.
func addSettingsFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Settings file (default: first of ./"+config.FileName+", user config dir)")
	flags.String("address", "", "Ollama server address")
	flags.String("model", "", "Model to chat with")
	flags.String("dialect", "", "API dialect: native or openai")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.String("transcript", "", "Directory of the transcript index")
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	s, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"address":      &s.Address,
		"model":        &s.Model,
		"dialect":      &s.Dialect,
		"log-level":    &s.LogLevel,
		"metrics-addr": &s.Metrics.Address,
		"transcript":   &s.Transcript.Path,
	}
	for name, target := range overrides {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*target = v
		}
	}
	return s, s.Validate()
}
