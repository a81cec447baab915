package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the roomviz HTTP server",
		Long: `Start the roomviz HTTP server.

The server will:
1. Load configuration from the specified file (defaults apply when it is missing)
2. Open durable storage and the job store
3. Connect to the rendering service and the optional room analyzer
4. Serve the session API, the event stream, health checks and metrics
5. Run scheduled maintenance (snapshot pruning, job pruning, idle sweep)

Open sessions are snapshotted for recovery on SIGINT/SIGTERM.`,
		Example: `  # Start with default config
  roomviz serve

  # Start with a custom config and reload the log level on edits
  roomviz serve --config /etc/roomviz/production.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug, watch)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload the log level when the config file changes")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate configuration or print its JSON schema",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigSchemaCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

// =============================================================================
// Recovery Commands
// =============================================================================

func buildRecoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Inspect and prune session recovery data",
	}
	cmd.AddCommand(buildRecoveryInspectCmd(), buildRecoveryPruneCmd())
	return cmd
}

func buildRecoveryInspectCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored snapshots and curation drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecoveryInspect(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func buildRecoveryPruneCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots and drafts past their retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecoveryPrune(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	return cmd
}

// =============================================================================
// Jobs Commands
// =============================================================================

func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and prune furniture-removal job records",
	}
	cmd.AddCommand(buildJobsListCmd(), buildJobsPruneCmd())
	return cmd
}

func buildJobsListCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		offset     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), limit, offset)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}

func buildJobsPruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  string
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete job records older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsPrune(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), olderThan)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "Override jobs.retention (e.g. 72h)")
	return cmd
}

// =============================================================================
// Version Command
// =============================================================================

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "roomviz %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
