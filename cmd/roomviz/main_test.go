package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/roomviz/internal/catalog"
	"github.com/haasonsaas/roomviz/internal/config"
	"github.com/haasonsaas/roomviz/internal/recovery"
	"github.com/haasonsaas/roomviz/internal/session"
	"github.com/haasonsaas/roomviz/internal/storage"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "config", "recovery", "jobs", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomviz.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		want    string
		wantErr bool
	}{
		{
			name: "validate ok",
			args: func(t *testing.T) []string {
				return []string{"config", "validate", "--config", writeConfig(t, "server:\n  http_port: 9000\n")}
			},
			want: "OK (version",
		},
		{
			name: "validate rejects bad storage",
			args: func(t *testing.T) []string {
				return []string{"config", "validate", "--config", writeConfig(t, "storage:\n  backend: floppy\n")}
			},
			wantErr: true,
		},
		{
			name: "schema",
			args: func(t *testing.T) []string { return []string{"config", "schema"} },
			want: "roomviz configuration",
		},
		{
			name: "version",
			args: func(t *testing.T) []string { return []string{"version"} },
			want: "roomviz dev",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args(t)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v (output %q)", err, tt.wantErr, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Fatalf("output %q does not contain %q", out, tt.want)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored, got %v", err)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ROOMVIZ_TEST_SECRET=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("ROOMVIZ_TEST_SECRET") })
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile() failed: %v", err)
	}
	if got := os.Getenv("ROOMVIZ_TEST_SECRET"); got != "from-dotenv" {
		t.Fatalf("ROOMVIZ_TEST_SECRET = %q", got)
	}
}

func TestRecoveryInspect(t *testing.T) {
	dir := t.TempDir()
	configPath := writeConfig(t, "storage:\n  backend: file\n  file:\n    dir: "+dir+"\n")

	out, err := execute(t, "recovery", "inspect", "--config", configPath)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !strings.Contains(out, "No recovery data stored.") {
		t.Fatalf("unexpected output for empty store: %q", out)
	}

	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	sess := session.New(session.Options{ID: "s1", Owner: "user-1"})
	if _, err := sess.AddProduct(catalog.Product{ID: "sofa-1", Name: "Oslo Sofa", ProductType: "sofa", Quantity: 1}); err != nil {
		t.Fatalf("AddProduct() failed: %v", err)
	}
	if err := recovery.New(recovery.Options{Store: store}).Capture(context.Background(), "user-1", sess); err != nil {
		t.Fatalf("Capture() failed: %v", err)
	}

	out, err = execute(t, "recovery", "inspect", "--json", "--config", configPath)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	var entries []recovery.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries: %v (%q)", err, out)
	}
	if len(entries) != 1 || entries[0].Owner != "user-1" || entries[0].Stale {
		t.Fatalf("entries = %+v", entries)
	}

	out, err = execute(t, "recovery", "prune", "--config", configPath)
	if err != nil || !strings.Contains(out, "Pruned 0") {
		t.Fatalf("prune of fresh data = %q, %v", out, err)
	}
}

func TestJobsCommands(t *testing.T) {
	configPath := writeConfig(t, "jobs:\n  store: memory\n")
	out, err := execute(t, "jobs", "list", "--config", configPath)
	if err != nil || !strings.Contains(out, "No jobs found.") {
		t.Fatalf("jobs list = %q, %v", out, err)
	}
	if _, err := execute(t, "jobs", "prune", "--older-than", "soon", "--config", configPath); err == nil {
		t.Fatal("expected an error for an invalid --older-than")
	}
	out, err = execute(t, "jobs", "prune", "--older-than", "1h", "--config", configPath)
	if err != nil || !strings.Contains(out, "Pruned 0 jobs") {
		t.Fatalf("jobs prune = %q, %v", out, err)
	}
}

func TestBuildAppServesAndShutsDown(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Logging.Level = "error"
	cfg.Storage.Backend = "file"
	cfg.Storage.File.Dir = dir

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		t.Fatalf("buildApp() failed: %v", err)
	}
	if err := a.server.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	a.sched.Start()

	resp, err := http.Get("http://" + a.server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	sess := a.sessions.Create("user-1")
	if _, err := sess.AddProduct(catalog.Product{ID: "lamp-1", Name: "Arc Lamp", ProductType: "lamp", Quantity: 1}); err != nil {
		t.Fatalf("AddProduct() failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdown(shutdownCtx, a); err != nil {
		t.Fatalf("shutdown() failed: %v", err)
	}
	if a.sessions.Len() != 0 {
		t.Fatalf("sessions left open after shutdown: %d", a.sessions.Len())
	}

	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	entries, err := recovery.New(recovery.Options{Store: store}).List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Owner != "user-1" {
		t.Fatalf("expected the open session to be snapshotted on shutdown, got %+v", entries)
	}
}
