// Kestrel - Child-welfare intake triage.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootFlags struct {
	debug     bool
	rulesPath string
	logFormat string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kestrel",
		Short: "Severity triage for child-welfare case notes",
		Long: "Kestrel classifies free-text observations about a child as low, medium\n" +
			"or serious and keeps role-scoped case records.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	root.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&rootFlags.rulesPath, "rules", "", "path to a YAML rule table (overrides KESTREL_RULES_FILE)")
	root.PersistentFlags().StringVar(&rootFlags.logFormat, "log-format", "", "log format: json or text")

	root.AddCommand(newServeCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newRulesCmd())
	return root
}

// loadConfig reads the environment and applies command-line overrides.
// Logs go to w.
func loadConfig(w io.Writer) (*domain.Config, error) {
	cfg, err := domain.LoadConfig(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if rootFlags.debug {
		cfg.Logging.Level = "debug"
	}
	if rootFlags.logFormat != "" {
		cfg.Logging.Format = rootFlags.logFormat
	}
	if rootFlags.rulesPath != "" {
		cfg.Rules.Path = rootFlags.rulesPath
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format, w)
	return cfg, nil
}

// loadClassifier builds the classifier from the configured rule table.
func loadClassifier(cfg *domain.Config) (*rules.Classifier, error) {
	table, err := rules.LoadTable(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	return rules.NewClassifier(table)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
