// Package main provides the CLI entry point for the roomviz visualization
// server.
//
// roomviz keeps per-user visualization sessions: a room photo, a canvas of
// catalog products and an undoable history of renders produced by an
// external rendering service.
//
// # Basic Usage
//
// Start the server:
//
//	roomviz serve --config roomviz.yaml
//
// Validate a configuration file:
//
//	roomviz config validate --config roomviz.yaml
//
// Inspect and prune recovery snapshots:
//
//	roomviz recovery inspect
//	roomviz recovery prune
//
// # Environment Variables
//
// Variables from a .env file in the working directory are loaded before
// configuration files are read, so ${VAR} references in the config resolve
// against them.
//
//   - ROOMVIZ_CONFIG: Path to configuration file (default: roomviz.yaml)
//   - RENDERER_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY:
//     referenced from the sample configuration
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "roomviz.yaml"

var envFile string

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
		Use:   "roomviz",
		Short: "roomviz - room furniture visualization server",
		Long: `roomviz keeps visualization sessions for shoppers placing catalog furniture
into photos of their rooms. Renders are produced by an external rendering
service; roomviz decides what to render, keeps undo history, runs furniture
removal jobs and recovers sessions across sign-ins.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading configuration")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildRecoveryCmd(),
		buildJobsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// loadEnvFile loads variables from path without overriding ones already
// set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// resolveConfigPath prefers an explicit flag, then ROOMVIZ_CONFIG, then the
// default file name.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" && path != defaultConfigPath {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("ROOMVIZ_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}
