package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/recovery"
	"github.com/haasonsaas/roomviz/internal/storage"
)

// =============================================================================
// Config Handlers
// =============================================================================

func runConfigValidate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: OK (version %d, storage %s, renderer %s)\n",
		configPath, cfg.Version, cfg.Storage.Backend, cfg.Renderer.Backend)
	return nil
}

func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

// =============================================================================
// Recovery Handlers
// =============================================================================

// openBridge opens durable storage and a recovery bridge over it. The
// caller closes the returned store.
func openBridge(ctx context.Context, configPath string) (*recovery.Bridge, storage.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	bridge := recovery.New(recovery.Options{
		Store:           store,
		StalenessWindow: cfg.Recovery.StalenessWindow,
		DraftTTL:        cfg.Recovery.DraftTTL,
		StoreListTTL:    cfg.Recovery.StoreListTTL,
	})
	return bridge, store, nil
}

func runRecoveryInspect(ctx context.Context, out io.Writer, configPath string, asJSON bool) error {
	bridge, store, err := openBridge(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := bridge.List(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No recovery data stored.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tOWNER\tSIZE\tUPDATED\tSTALE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", e.Kind, e.Owner, e.Size, e.UpdatedAt.Format(time.RFC3339), e.Stale)
	}
	return w.Flush()
}

func runRecoveryPrune(ctx context.Context, out io.Writer, configPath string) error {
	bridge, store, err := openBridge(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := bridge.Prune(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pruned %d recovery entries.\n", n)
	return nil
}

// =============================================================================
// Jobs Handlers
// =============================================================================

func runJobsList(ctx context.Context, out io.Writer, configPath string, limit, offset int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(ctx, limit, offset)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tSTATUS\tOUTCOME\tATTEMPTS\tCREATED")
	for _, job := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			job.ID, job.SessionID, job.Status, job.Outcome, job.Attempts, job.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runJobsPrune(ctx context.Context, out io.Writer, configPath, olderThan string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	retention := cfg.Jobs.Retention
	if olderThan != "" {
		retention, err = time.ParseDuration(olderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
	}
	store, err := openJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pruned %d jobs older than %s.\n", n, retention)
	return nil
}
