package jobs

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	job := &Job{
		ID:        "job-1",
		SessionID: "sess-1",
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	job.Status = StatusProcessing
	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != StatusPending {
		t.Fatalf("store must keep its own copy, got %+v", got)
	}

	job.Status = StatusCompleted
	job.ResultImage = "data:image/png;base64,AAAA"
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Get(ctx, "job-1")
	if got.Status != StatusCompleted || got.ResultImage == "" {
		t.Fatalf("expected completed job with image, got %+v", got)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing job, got %+v, %v", missing, err)
	}
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_ = store.Create(ctx, &Job{ID: id, Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	tests := []struct {
		name          string
		limit, offset int
		want          []string
	}{
		{name: "all", want: []string{"c", "b", "a"}},
		{name: "limit", limit: 2, want: []string{"c", "b"}},
		{name: "offset", limit: 2, offset: 2, want: []string{"a"}},
		{name: "past end", offset: 5, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.limit, tt.offset)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() returned %d jobs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Fatalf("List()[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestMemoryStorePrune(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Create(ctx, &Job{ID: "old", Status: StatusCompleted, CreatedAt: time.Now().Add(-48 * time.Hour)})
	_ = store.Create(ctx, &Job{ID: "new", Status: StatusPending, CreatedAt: time.Now()})

	pruned, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}
	if job, _ := store.Get(ctx, "old"); job != nil {
		t.Fatalf("old job should be gone")
	}
	if job, _ := store.Get(ctx, "new"); job == nil {
		t.Fatalf("new job should remain")
	}
}

func TestMemoryStoreCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Job{ID: "running", Status: StatusProcessing, CreatedAt: time.Now()})
	_ = store.Create(ctx, &Job{ID: "done", Status: StatusCompleted, CreatedAt: time.Now()})

	if err := store.Cancel(ctx, "running"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Cancel(ctx, "done"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := store.Cancel(ctx, "missing"); err != nil {
		t.Fatalf("cancel missing: %v", err)
	}

	job, _ := store.Get(ctx, "running")
	if job.Status != StatusFailed || job.Outcome != OutcomeCancelled || job.FinishedAt.IsZero() {
		t.Fatalf("expected cancelled job, got %+v", job)
	}
	job, _ = store.Get(ctx, "done")
	if job.Status != StatusCompleted {
		t.Fatalf("finished jobs must not be cancelled, got %+v", job)
	}
}
