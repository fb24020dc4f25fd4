package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perplexdev/perplex/internal/logger"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "perplex",
	Short: "Token-level prediction analysis for local language models",
	Long: `Perplex runs a text through a local model and reports, for every token,
how well the model predicted it: rank among the candidates, assigned
probability, and aggregate surprise metrics.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Setup(logLevel, logFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
