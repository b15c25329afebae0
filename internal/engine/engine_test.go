package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"rekenwolk/internal/config"
	"rekenwolk/internal/db"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/migrate"
	"rekenwolk/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

func newTestEnv(t *testing.T) testEnv {
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
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	p, err := eng.CreateProject(ctx, domain.Project{
		Naam:       "Woning",
		Adres:      "Teststraat 12",
		Plaatsnaam: "Amsterdam",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

// drain claims and processes open tasks until the queue is empty, failing the
// test on the first handler error.
func drain(t *testing.T, env testEnv) int {
	t.Helper()
	processed := 0
	for {
		task, err := env.Engine.Repo.ClaimNextOpenTask(env.Ctx, repo.RoleExecutor)
		if errors.Is(err, repo.ErrNotFound) {
			return processed
		}
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := env.Engine.ProcessTask(env.Ctx, task); err != nil {
			t.Fatalf("process %s: %v", task.Action, err)
		}
		processed++
	}
}

func TestStartCalculationEnqueuesInitialBatch(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != engine.StartStarted {
		t.Fatalf("status = %s, want %s", res.Status, engine.StartStarted)
	}
	if res.Run.Status != "queued" || res.Run.CurrentStep != "start" {
		t.Fatalf("run %s/%s, want queued/start", res.Run.Status, res.Run.CurrentStep)
	}

	wantOrder := []string{"project_scan", "generate_stabu", "start_rekenwolk"}
	for _, want := range wantOrder {
		task, err := env.Engine.Repo.ClaimNextOpenTask(env.Ctx, repo.RoleExecutor)
		if err != nil {
			t.Fatalf("claim %s: %v", want, err)
		}
		if task.Action != want {
			t.Fatalf("claimed %s, want %s", task.Action, want)
		}
		if task.CalculationRunID == nil || *task.CalculationRunID != res.Run.ID {
			t.Fatalf("task %s niet aan run gekoppeld", task.Action)
		}
	}
	if _, err := env.Engine.Repo.ClaimNextOpenTask(env.Ctx, repo.RoleExecutor); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("verwachtte lege wachtrij, kreeg %v", err)
	}
}

func TestStartCalculationIdempotentBySourceTask(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
		ProjectID:    env.Project.ID,
		SourceTaskID: "chat-task-1",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
		ProjectID:    env.Project.ID,
		SourceTaskID: "chat-task-1",
	})
	if err != nil {
		t.Fatalf("tweede start: %v", err)
	}
	if second.Status != engine.StartAlreadyStarted {
		t.Fatalf("status = %s, want %s", second.Status, engine.StartAlreadyStarted)
	}
	if second.Run.ID != first.Run.ID {
		t.Fatalf("verwachtte bestaande run %s, kreeg %s", first.Run.ID, second.Run.ID)
	}
	// No second initial batch.
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: env.Project.ID, Status: "open"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("open taken = %d, want 3", len(tasks))
	}
}

func TestStartCalculationActiveRunGuard(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
		ProjectID:    env.Project.ID,
		SourceTaskID: "ander-bericht",
	})
	if err != nil {
		t.Fatalf("tweede start: %v", err)
	}
	if second.Status != engine.StartAlreadyRunning {
		t.Fatalf("status = %s, want %s", second.Status, engine.StartAlreadyRunning)
	}
	if second.Run.ID != first.Run.ID {
		t.Fatalf("verwachtte actieve run %s, kreeg %s", first.Run.ID, second.Run.ID)
	}
}

func TestStartCalculationCompensatesFailedBatch(t *testing.T) {
	env := newTestEnv(t)
	// Without the task table the run insert commits but the batch cannot.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE executor_tasks`); err != nil {
		t.Fatalf("drop executor_tasks: %v", err)
	}
	_, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
		ProjectID:    env.Project.ID,
		SourceTaskID: "chat-task-kapot",
	})
	if err == nil {
		t.Fatal("verwachtte fout uit batch enqueue")
	}
	if !strings.Contains(err.Error(), "enqueue initial batch") {
		t.Fatalf("fout = %v, verwachtte batch-fout", err)
	}
	run, err := env.Engine.Repo.FindRunBySourceTask(env.Ctx, "chat-task-kapot")
	if err != nil {
		t.Fatalf("run niet gevonden na mislukte start: %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
}

func TestStartCalculationConcurrentStartsSingleRun(t *testing.T) {
	env := newTestEnv(t)
	const starters = 8
	results := make(chan string, starters)
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
				ProjectID:    env.Project.ID,
				SourceTaskID: fmt.Sprintf("chat-task-%d", i),
			})
			if err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			results <- res.Status
		}(i)
	}
	wg.Wait()
	close(results)

	started := 0
	for status := range results {
		switch status {
		case engine.StartStarted:
			started++
		case engine.StartAlreadyRunning:
		default:
			t.Fatalf("onverwachte status %s", status)
		}
	}
	if started != 1 {
		t.Fatalf("gestarte runs = %d, want 1", started)
	}
	runs, err := env.Engine.Repo.ListRuns(env.Ctx, env.Project.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs in database = %d, want 1", len(runs))
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// 3 initial + 5 chained rekenwolk stages.
	if n := drain(t, env); n != 8 {
		t.Fatalf("verwerkte taken = %d, want 8", n)
	}

	run, err := env.Engine.Repo.GetCalculationRun(env.Ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "done" || run.CurrentStep != "finalize_rekenwolk" {
		t.Fatalf("run %s/%s, want done/finalize_rekenwolk", run.Status, run.CurrentStep)
	}

	calc, err := env.Engine.Repo.LatestCalculationForProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if calc.WorkflowStatus != "definitief" {
		t.Fatalf("calculatie status = %s, want definitief", calc.WorkflowStatus)
	}
	if calc.Kostprijs <= 0 {
		t.Fatalf("kostprijs = %v", calc.Kostprijs)
	}
	wantVerkoop := math.Round(calc.Kostprijs*1.08*100) / 100
	if calc.Verkoopprijs != wantVerkoop {
		t.Fatalf("verkoopprijs = %v, want %v", calc.Verkoopprijs, wantVerkoop)
	}

	// 6 basisposten plus 4 E- and 4 W-installatieregels.
	lines, err := env.Engine.Repo.ListCalculationLines(env.Ctx, calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 14 {
		t.Fatalf("regels = %d, want 14", len(lines))
	}

	phases, err := env.Engine.Repo.ListPlanning(env.Ctx, calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 2 {
		t.Fatalf("planningfases = %d, want 2", len(phases))
	}

	rep, err := env.Engine.Repo.GetReport(env.Ctx, env.Project.ID, "calculatie")
	if err != nil {
		t.Fatalf("rapport calculatie: %v", err)
	}
	if rep.Status != "generated" {
		t.Fatalf("rapport status = %s", rep.Status)
	}

	scan, err := env.Engine.Repo.GetScanResult(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if scan.Oppervlakte != 80 {
		t.Fatalf("oppervlakte = %v, want 80", scan.Oppervlakte)
	}
}

func TestFixedPriceOverridesMarkup(t *testing.T) {
	env := newTestEnv(t)
	fixed := 250000.0
	_, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{
		ProjectID:  env.Project.ID,
		FixedPrice: &fixed,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, env)
	calc, err := env.Engine.Repo.LatestCalculationForProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if calc.Verkoopprijs != fixed {
		t.Fatalf("verkoopprijs = %v, want vaste prijs %v", calc.Verkoopprijs, fixed)
	}
}

func TestPlanningReplaceNotAppend(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID}); err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, env)
	calc, err := env.Engine.Repo.LatestCalculationForProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "planning", nil, nil); err != nil {
		t.Fatalf("enqueue planning: %v", err)
	}
	drain(t, env)
	phases, err := env.Engine.Repo.ListPlanning(env.Ctx, calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 2 {
		t.Fatalf("planningfases na herberekening = %d, want 2", len(phases))
	}
}

func TestFoundationCheckHighRisk(t *testing.T) {
	env := newTestEnv(t)
	now := "2026-01-01T00:00:00Z"
	calc := domain.Calculation{
		ID:             "calc-1",
		ProjectID:      env.Project.ID,
		WorkflowStatus: "concept",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := env.Engine.Repo.InsertCalculation(env.Ctx, nil, calc); err != nil {
		t.Fatal(err)
	}
	// Alleen afbouw: geen grondwerk (21) en geen casco (22).
	lines := []domain.CalculationLine{
		{ID: "l1", CalculatieID: calc.ID, Code: "24.30", Omschrijving: "Gevels", Eenheid: "m2", Hoeveelheid: 64, Prijs: 317.5, Totaal: 20320},
	}
	if err := env.Engine.Repo.InsertCalculationLines(env.Ctx, nil, lines); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "foundation_check", nil, nil); err != nil {
		t.Fatal(err)
	}
	drain(t, env)
	check, err := env.Engine.Repo.GetFoundationCheck(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if check.Risiconiveau != "hoog" {
		t.Fatalf("risiconiveau = %s, want hoog", check.Risiconiveau)
	}
	// foundation_check chains into nen_analysis.
	results, err := env.Engine.Repo.ListNenResults(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("nen-resultaten = %d, want 3", len(results))
	}
}

func TestFoundationCheckLowRiskAfterPipeline(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID}); err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, env)
	if _, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "foundation_check", nil, nil); err != nil {
		t.Fatal(err)
	}
	drain(t, env)
	check, err := env.Engine.Repo.GetFoundationCheck(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if check.Risiconiveau != "laag" {
		t.Fatalf("risiconiveau = %s, want laag", check.Risiconiveau)
	}
}

func TestReportChain(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID}); err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, env)
	if _, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "assumptions_report", nil, nil); err != nil {
		t.Fatal(err)
	}
	// assumptions_report -> risk_report -> rapportage.
	if n := drain(t, env); n != 3 {
		t.Fatalf("verwerkte taken = %d, want 3", n)
	}
	for _, typ := range []string{"assumptions", "risk", "final"} {
		if _, err := env.Engine.Repo.GetReport(env.Ctx, env.Project.ID, typ); err != nil {
			t.Errorf("rapport %s: %v", typ, err)
		}
	}
	calc, err := env.Engine.Repo.LatestCalculationForProject(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	allocs, err := env.Engine.Repo.ListRiskAllocations(env.Ctx, calc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 4 {
		t.Fatalf("risicocategorieën = %d, want 4", len(allocs))
	}
	var sum float64
	for _, a := range allocs {
		sum += a.Percentage
	}
	if sum != 100 {
		t.Fatalf("aandelen sommeren tot %v, want 100", sum)
	}
}

func TestEnqueueTaskRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "frituur_friet", nil, nil)
	var unknown engine.UnknownActionError
	if !errors.As(err, &unknown) {
		t.Fatalf("verwachtte UnknownActionError, kreeg %v", err)
	}
	// Normalization makes sloppy action names routable.
	if _, err := env.Engine.EnqueueTask(env.Ctx, env.Project.ID, "Foundation Check", nil, nil); err != nil {
		t.Fatalf("genormaliseerde actie geweigerd: %v", err)
	}
}

func TestFailTaskMarksRunFailed(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	task, err := env.Engine.Repo.ClaimNextOpenTask(env.Ctx, repo.RoleExecutor)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.FailTask(env.Ctx, task, errors.New("scanner kapot")); err != nil {
		t.Fatalf("fail task: %v", err)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" || got.Error == nil || *got.Error != "scanner kapot" {
		t.Fatalf("taak %s/%v", got.Status, got.Error)
	}
	run, err := env.Engine.Repo.GetCalculationRun(env.Ctx, res.Run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "failed" {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	// A failed run no longer blocks a fresh start.
	again, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID, SourceTaskID: "opnieuw"})
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != engine.StartStarted {
		t.Fatalf("status = %s, want %s", again.Status, engine.StartStarted)
	}
}

func TestStageLogTrail(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartCalculation(env.Ctx, engine.StartOptions{ProjectID: env.Project.ID}); err != nil {
		t.Fatalf("start: %v", err)
	}
	drain(t, env)
	logs, err := env.Engine.Repo.ListStageLog(env.Ctx, env.Project.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 8 {
		t.Fatalf("stagelog regels = %d, want 8", len(logs))
	}
	for _, l := range logs {
		if l.Status != "done" {
			t.Errorf("stage %s status = %s", l.Module, l.Status)
		}
		if l.FinishedAt == nil {
			t.Errorf("stage %s zonder finished_at", l.Module)
		}
	}
}
