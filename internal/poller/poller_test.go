package poller

import (
	"context"
	"testing"
	"time"

	"rekenwolk/internal/config"
	"rekenwolk/internal/db"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/migrate"
	"rekenwolk/internal/repo"
)

func newTestPoller(t *testing.T) (*Poller, domain.Project) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, domain.Project{Naam: "Woning", Adres: "Dorpsstraat 1", Plaatsnaam: "Utrecht"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return New(eng), p
}

func TestTickProcessesOneTask(t *testing.T) {
	p, project := newTestPoller(t)
	ctx := context.Background()
	res, err := p.Engine.StartCalculation(ctx, engine.StartOptions{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	p.Tick(ctx)

	tasks, err := p.Engine.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: project.ID, Status: "done"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Action != "project_scan" {
		t.Fatalf("verwachtte 1 afgeronde project_scan, kreeg %+v", tasks)
	}
	run, err := p.Engine.Repo.GetCalculationRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "scan_completed" {
		t.Fatalf("run status = %s, want scan_completed", run.Status)
	}
}

func TestTickDrivesPipelineToDone(t *testing.T) {
	p, project := newTestPoller(t)
	ctx := context.Background()
	res, err := p.Engine.StartCalculation(ctx, engine.StartOptions{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 8; i++ {
		p.Tick(ctx)
	}
	run, err := p.Engine.Repo.GetCalculationRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "done" {
		t.Fatalf("run status = %s, want done", run.Status)
	}
}

func TestTickMarksBadTaskFailed(t *testing.T) {
	p, project := newTestPoller(t)
	ctx := context.Background()
	// Direct insert bypasses the router's action check.
	task := domain.Task{
		ID:        "t-onbekend",
		ProjectID: project.ID,
		Action:    "niet_bestaand",
		Status:    "open",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.Engine.Repo.InsertTask(ctx, nil, task); err != nil {
		t.Fatal(err)
	}

	p.Tick(ctx)

	got, err := p.Engine.Repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" {
		t.Fatalf("taak status = %s, want failed", got.Status)
	}
	if got.Error == nil {
		t.Fatal("verwachtte foutmelding op taak")
	}
}

func TestTickTimesOutSlowTask(t *testing.T) {
	p, project := newTestPoller(t)
	ctx := context.Background()
	res, err := p.Engine.StartCalculation(ctx, engine.StartOptions{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// The deadline expires before the handler gets anywhere.
	p.Timeout = time.Nanosecond

	p.Tick(ctx)

	tasks, err := p.Engine.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: project.ID, Status: "failed"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("mislukte taken = %d, want 1", len(tasks))
	}
	if tasks[0].Error == nil || *tasks[0].Error != "timeout" {
		t.Fatalf("taak fout = %v, want timeout", tasks[0].Error)
	}
	run, err := p.Engine.Repo.GetCalculationRun(ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "failed" {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
}

func TestTickDropsReentrantCall(t *testing.T) {
	p, _ := newTestPoller(t)
	p.active.Store(true)
	// Must return immediately without touching the queue.
	done := make(chan struct{})
	go func() {
		p.Tick(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Tick blokkeerde terwijl een taak in behandeling was")
	}
	if !p.active.Load() {
		t.Fatal("actieve vlag mag niet vrijgegeven worden door een gedropte tick")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := &Poller{Interval: 4 * time.Second}
	if d := p.backoff(); d != 0 {
		t.Fatalf("backoff zonder fouten = %s, want 0", d)
	}
	p.failures = 1
	low := p.backoff()
	if low < 4*time.Second || low > 8*time.Second {
		t.Fatalf("backoff na 1 fout = %s, buiten [4s, 8s]", low)
	}
	p.failures = 20
	if d := p.backoff(); d > maxBackoff {
		t.Fatalf("backoff = %s, boven plafond %s", d, maxBackoff)
	}
}
