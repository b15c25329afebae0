package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rekenwolk/internal/db"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := Repo{DB: conn}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := r.InsertProject(context.Background(), nil, domain.Project{
		ID: "p1", Naam: "Woning", ProjectType: "nieuwbouw", CreatedAt: now,
	}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return r
}

func seedOpenTasks(t *testing.T, r Repo, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("task-%03d", i)
		err := r.InsertTask(context.Background(), nil, domain.Task{
			ID:        id,
			ProjectID: "p1",
			Action:    "project_scan",
			Status:    "open",
			CreatedAt: base.Add(time.Duration(i) * time.Second).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatalf("insert task %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestClaimNextOpenTaskFIFO(t *testing.T) {
	r := newTestRepo(t)
	ids := seedOpenTasks(t, r, 5)
	ctx := context.Background()
	for _, want := range ids {
		task, err := r.ClaimNextOpenTask(ctx, RoleExecutor)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if task.ID != want {
			t.Fatalf("claimde %s, want %s", task.ID, want)
		}
		if task.Status != "running" || task.StartedAt == nil {
			t.Fatalf("claim zette taak niet op running: %+v", task)
		}
	}
	if _, err := r.ClaimNextOpenTask(ctx, RoleExecutor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("lege wachtrij: %v", err)
	}
}

func TestClaimNextOpenTaskExclusive(t *testing.T) {
	r := newTestRepo(t)
	seedOpenTasks(t, r, 20)
	ctx := context.Background()

	var mu sync.Mutex
	claimed := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := r.ClaimNextOpenTask(ctx, RoleExecutor)
				if errors.Is(err, ErrNotFound) {
					return
				}
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 20 {
		t.Fatalf("geclaimde taken = %d, want 20", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("taak %s is %d keer geclaimd", id, n)
		}
	}
}

func TestClaimSkipsOtherRoles(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	err := r.InsertTask(ctx, nil, domain.Task{
		ID:         "t-review",
		ProjectID:  "p1",
		Action:     "project_scan",
		Status:     "open",
		AssignedTo: "reviewer",
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ClaimNextOpenTask(ctx, RoleExecutor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("executor mag reviewer-taak niet claimen: %v", err)
	}
	task, err := r.ClaimNextOpenTask(ctx, "reviewer")
	if err != nil {
		t.Fatalf("reviewer claim: %v", err)
	}
	if task.ID != "t-review" {
		t.Fatalf("claimde %s", task.ID)
	}
}

func TestUpdateTaskStatusIdempotent(t *testing.T) {
	r := newTestRepo(t)
	seedOpenTasks(t, r, 1)
	ctx := context.Background()
	task, err := r.ClaimNextOpenTask(ctx, RoleExecutor)
	if err != nil {
		t.Fatal(err)
	}
	msg := "mislukt"
	if err := r.UpdateTaskStatus(ctx, task.ID, "failed", &msg); err != nil {
		t.Fatal(err)
	}
	// A retry on a missing id is a no-op, not an error.
	if err := r.UpdateTaskStatus(ctx, "bestaat-niet", "done", nil); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" || got.Error == nil || *got.Error != "mislukt" || got.FinishedAt == nil {
		t.Fatalf("taak na falen: %+v", got)
	}
}
