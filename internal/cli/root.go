// Package cli defines the gembridge command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gembridge",
	Short: "Gemini-dialect front end for OpenAI-compatible backends",
	Long: `gembridge exposes a Gemini-style generateContent API and fulfils
requests against any OpenAI-compatible chat-completions backend,
converting requests, responses, and streaming chunks between the two
dialects.`,
	Run: func(c *cobra.Command, args []string) {
		// Bare invocation serves, matching container usage.
		runServe(c, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ./config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
