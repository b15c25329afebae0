package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rekenwolk/internal/config"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/events"
	"rekenwolk/internal/pdf"
	"rekenwolk/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	PDF    pdf.Renderer
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// CreateProject registers a new project for intake.
func (e Engine) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if strings.TrimSpace(p.Naam) == "" {
		return domain.Project{}, errors.New("naam is required")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ProjectType == "" {
		p.ProjectType = "nieuwbouw"
	}
	p.CreatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, events.EventPayload{"naam": p.Naam, "project_type": p.ProjectType}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// EnqueueTask inserts an open executor task for a routable action. Callers use
// it for ad hoc stages like foundation_check; the pipeline itself chains
// through enqueueSuccessor.
func (e Engine) EnqueueTask(ctx context.Context, projectID, action string, runID *string, payload map[string]any) (domain.Task, error) {
	stage := NormalizeAction(action)
	if !e.routable(stage) {
		return domain.Task{}, UnknownActionError{Action: action}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:               uuid.New().String(),
		ProjectID:        projectID,
		CalculationRunID: runID,
		Action:           string(stage),
		Payload:          payload,
		Status:           "open",
		AssignedTo:       repo.RoleExecutor,
		CreatedAt:        e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.enqueued", projectID, "task", t.ID, events.EventPayload{"action": t.Action}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) routable(s Stage) bool {
	_, ok := e.handlers()[s]
	return ok
}

// Run start statuses returned by StartCalculation.
const (
	StartStarted        = "started"
	StartAlreadyStarted = "already_started"
	StartAlreadyRunning = "already_running"
)

// StartOptions are parameters for starting a calculation run.
type StartOptions struct {
	ProjectID        string
	ScenarioName     string
	CalculationType  string
	CalculationLevel string
	FixedPrice       *float64
	SourceTaskID     string
}

// StartResult is the outcome of the dedup guard: the run that applies to the
// project plus how it came about.
type StartResult struct {
	Run    domain.CalculationRun
	Status string
}

// StartCalculation creates a calculation run and its initial stage batch,
// guarded twice: the same source task never starts a second run, and a project
// with an active run never gets a concurrent one. When the batch enqueue fails
// after the run was created, the run is compensated to failed.
func (e Engine) StartCalculation(ctx context.Context, opts StartOptions) (StartResult, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return StartResult{}, errors.New("project_id is required")
	}
	if e.Config == nil {
		return StartResult{}, errors.New("config not loaded")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return StartResult{}, err
	}
	if opts.SourceTaskID != "" {
		existing, err := e.Repo.FindRunBySourceTask(ctx, opts.SourceTaskID)
		if err == nil {
			return StartResult{Run: existing, Status: StartAlreadyStarted}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return StartResult{}, err
		}
	}
	now := e.nowStr()
	run := domain.CalculationRun{
		ID:               uuid.New().String(),
		ProjectID:        opts.ProjectID,
		ScenarioName:     optionalString(opts.ScenarioName),
		CalculationType:  optionalString(opts.CalculationType),
		CalculationLevel: optionalString(opts.CalculationLevel),
		FixedPrice:       opts.FixedPrice,
		Status:           "queued",
		CurrentStep:      "start",
		SourceTaskID:     optionalString(opts.SourceTaskID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return StartResult{}, err
	}
	defer tx.Rollback()
	// The active-run check shares the insert transaction, which holds the
	// write lock from BEGIN. Two concurrent starts serialize here instead of
	// both passing the check.
	active, err := e.Repo.FindActiveRunForProject(ctx, tx, opts.ProjectID, e.Config.Run.ActiveStatuses)
	if err == nil {
		return StartResult{Run: active, Status: StartAlreadyRunning}, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return StartResult{}, err
	}
	if err := e.Repo.InsertCalculationRun(ctx, tx, run); err != nil {
		// The unique index on source_task_id closes the race between two
		// concurrent starts for the same task.
		tx.Rollback()
		if opts.SourceTaskID != "" {
			if existing, lookupErr := e.Repo.FindRunBySourceTask(ctx, opts.SourceTaskID); lookupErr == nil {
				return StartResult{Run: existing, Status: StartAlreadyStarted}, nil
			}
		}
		return StartResult{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "run.created", run.ProjectID, "run", run.ID, events.EventPayload{"status": run.Status}); err != nil {
		return StartResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return StartResult{}, err
	}

	if err := e.enqueueInitialBatch(ctx, run); err != nil {
		e.compensateRun(ctx, run.ID)
		return StartResult{}, fmt.Errorf("enqueue initial batch: %w", err)
	}
	return StartResult{Run: run, Status: StartStarted}, nil
}

// enqueueInitialBatch inserts the three opening stage tasks in creation order.
func (e Engine) enqueueInitialBatch(ctx context.Context, run domain.CalculationRun) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stage := range []Stage{StageProjectScan, StageGenerateStabu, StageStartRekenwolk} {
		t := domain.Task{
			ID:               uuid.New().String(),
			ProjectID:        run.ProjectID,
			CalculationRunID: &run.ID,
			Action:           string(stage),
			Status:           "open",
			AssignedTo:       repo.RoleExecutor,
			CreatedAt:        e.nowStr(),
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "task.enqueued", run.ProjectID, "task", t.ID, events.EventPayload{"action": t.Action, "run_id": run.ID}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// compensateRun marks a run failed after its batch could not be enqueued. Best
// effort: the original error is what the caller reports.
func (e Engine) compensateRun(ctx context.Context, runID string) {
	_ = e.Repo.UpdateCalculationRun(ctx, runID, "failed", "start", e.nowStr())
}

// ProcessTask routes a claimed task to its stage handler. The handler closes
// the task and enqueues its successor; an error leaves both to FailTask.
func (e Engine) ProcessTask(ctx context.Context, t domain.Task) error {
	stage := NormalizeAction(t.Action)
	h, ok := e.handlers()[stage]
	if !ok {
		return UnknownActionError{Action: t.Action}
	}
	return h(ctx, t)
}

// FailTask records a handler failure: task failed with the error message, the
// attached run failed as well.
func (e Engine) FailTask(ctx context.Context, t domain.Task, cause error) error {
	msg := cause.Error()
	if err := e.Repo.UpdateTaskStatus(ctx, t.ID, "failed", &msg); err != nil {
		return err
	}
	if t.CalculationRunID != nil {
		if err := e.Repo.UpdateCalculationRun(ctx, *t.CalculationRunID, "failed", string(NormalizeAction(t.Action)), e.nowStr()); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "task.failed", t.ProjectID, "task", t.ID, events.EventPayload{"action": t.Action, "error": msg}); err != nil {
		return err
	}
	return tx.Commit()
}

type handlerFunc func(ctx context.Context, t domain.Task) error

func (e Engine) handlers() map[Stage]handlerFunc {
	return map[Stage]handlerFunc{
		StageStartCalculation:  e.handleStartCalculation,
		StageProjectScan:       e.handleProjectScan,
		StageGenerateStabu:     e.handleGenerateStabu,
		StageStartRekenwolk:    e.handleStartRekenwolk,
		StageDeriveQuantities:  e.handleDeriveQuantities,
		StageInstallatiesE:     e.handleInstallatiesE,
		StageInstallatiesW:     e.handleInstallatiesW,
		StagePlanning:          e.handlePlanning,
		StageFinalizeRekenwolk: e.handleFinalize,
		StageAssumptionsReport: e.handleAssumptionsReport,
		StageRiskReport:        e.handleRiskReport,
		StageRapportage:        e.handleRapportage,
		StageFoundationCheck:   e.handleFoundationCheck,
		StageNenAnalysis:       e.handleNenAnalysis,
	}
}

// runStage wraps a handler body with the project initialization log trail.
func (e Engine) runStage(ctx context.Context, t domain.Task, stage Stage, fn func(ctx context.Context) error) error {
	logID, err := e.Repo.StageStart(ctx, t.ProjectID, string(stage), e.nowStr())
	if err != nil {
		return fmt.Errorf("stage log: %w", err)
	}
	if err := fn(ctx); err != nil {
		_ = e.Repo.StageFinish(ctx, logID, "failed", e.nowStr())
		return err
	}
	return e.Repo.StageFinish(ctx, logID, "done", e.nowStr())
}

// completeStage closes the task, advances the attached run and enqueues the
// successor stage, all in one transaction so a crash never loses the chain.
func (e Engine) completeStage(ctx context.Context, t domain.Task, stage Stage, runStatus string, extra events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := e.nowStr()
	if _, err := tx.ExecContext(ctx, `UPDATE executor_tasks SET status='done', finished_at=?, error=NULL WHERE id=?`, now, t.ID); err != nil {
		return fmt.Errorf("close task: %w", err)
	}
	if t.CalculationRunID != nil {
		query := `UPDATE calculation_runs SET current_step=?, updated_at=? WHERE id=?`
		args := []any{string(stage), now, *t.CalculationRunID}
		if runStatus != "" {
			query = `UPDATE calculation_runs SET status=?, current_step=?, updated_at=? WHERE id=?`
			args = []any{runStatus, string(stage), now, *t.CalculationRunID}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("advance run: %w", err)
		}
	}
	if next, ok := stage.Successor(); ok {
		nt := domain.Task{
			ID:               uuid.New().String(),
			ProjectID:        t.ProjectID,
			CalculationRunID: t.CalculationRunID,
			Action:           string(next),
			Payload:          t.Payload,
			Status:           "open",
			AssignedTo:       repo.RoleExecutor,
			CreatedAt:        now,
		}
		if err := e.Repo.InsertTask(ctx, tx, nt); err != nil {
			return fmt.Errorf("enqueue successor: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.enqueued", t.ProjectID, "task", nt.ID, events.EventPayload{"action": nt.Action}); err != nil {
			return err
		}
	}
	payload := events.EventPayload{"action": string(stage)}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.Events.Append(ctx, tx, "stage.completed", t.ProjectID, "task", t.ID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// latestCalculation resolves the calculation a stage operates on, with a
// stage-prefixed error when the pipeline reached the stage too early.
func (e Engine) latestCalculation(ctx context.Context, projectID, errCode string) (domain.Calculation, error) {
	c, err := e.Repo.LatestCalculationForProject(ctx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return c, stageErr(errCode, "geen calculatie voor project %s", projectID)
	}
	return c, err
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
