// Package main provides the CLI entry point for gicagen-core, the resilient
// LLM routing core behind the document-generation service.
//
// gicagen-core drives section-by-section document generation across a
// provider fallback chain (Gemini, Mistral, OpenRouter), gated by a
// per-provider concurrency/RPM coordinator and circuit breaker, with the
// operator's provider/model selection persisted to disk and every step
// recorded to a JSONL trace file.
//
// # Basic Usage
//
// Generate a document:
//
//	gicagen-core generate --config gicagen.yaml --format format.json --prompt prompt.txt --title "Q3 Report"
//
// Check provider health:
//
//	gicagen-core status --config gicagen.yaml
//
// Probe configured providers directly:
//
//	gicagen-core probe --config gicagen.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/gicagen/resilience-core/internal/config"
	"github.com/gicagen/resilience-core/internal/core"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gicagen-core",
		Short:   "gicagen-core - resilient LLM routing core for document generation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildGenerateCmd(), buildStatusCmd(), buildProbeCmd(), buildSchemaCmd())
	return rootCmd
}

// loadCore loads the config at configPath and wires a Core from it.
func loadCore(configPath string) (*core.Core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c, err := core.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire core: %w", err)
	}
	return c, nil
}
