package server

import (
	"encoding/json"

	"rekenwolk/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string `json:"id,omitempty"`
	Naam        string `json:"naam"`
	Adres       string `json:"adres,omitempty"`
	Plaatsnaam  string `json:"plaatsnaam,omitempty"`
	ProjectType string `json:"project_type,omitempty" enum:",nieuwbouw,verbouw"`
}

type StartCalculationRequest struct {
	ProjectID        string   `json:"project_id"`
	ScenarioName     string   `json:"scenario_name,omitempty"`
	CalculationType  string   `json:"calculation_type,omitempty"`
	CalculationLevel string   `json:"calculation_level,omitempty"`
	FixedPrice       *float64 `json:"fixed_price,omitempty"`
}

type EnqueueTaskRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Naam        string `json:"naam"`
	Adres       string `json:"adres,omitempty"`
	Plaatsnaam  string `json:"plaatsnaam,omitempty"`
	ProjectType string `json:"project_type"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type StartCalculationResponse struct {
	CalculationRunID string `json:"calculation_run_id"`
	Status           string `json:"status" enum:"started,already_started,already_running"`
}

type RunResponse struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	ScenarioName     *string  `json:"scenario_name,omitempty"`
	CalculationType  *string  `json:"calculation_type,omitempty"`
	CalculationLevel *string  `json:"calculation_level,omitempty"`
	FixedPrice       *float64 `json:"fixed_price,omitempty"`
	Status           string   `json:"status"`
	CurrentStep      string   `json:"current_step"`
	SourceTaskID     *string  `json:"source_task_id,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	CalculationRunID *string        `json:"calculation_run_id,omitempty"`
	Action           string         `json:"action"`
	Payload          map[string]any `json:"payload,omitempty"`
	Status           string         `json:"status" enum:"open,running,done,failed"`
	AssignedTo       string         `json:"assigned_to"`
	Error            *string        `json:"error,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	StartedAt        *string        `json:"started_at,omitempty" format:"date-time"`
	FinishedAt       *string        `json:"finished_at,omitempty" format:"date-time"`
}

type ReportResponse struct {
	ProjectID  string         `json:"project_id"`
	ReportType string         `json:"report_type"`
	Status     string         `json:"status"`
	Body       map[string]any `json:"body,omitempty"`
	PdfURL     string         `json:"pdf_url,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type PlanningResponse struct {
	Fase        string  `json:"fase"`
	Hoeveelheid float64 `json:"hoeveelheid"`
	DuurDagen   int     `json:"duur_dagen"`
}

type NenResponse struct {
	NenCode     string `json:"nen_code"`
	Resultaat   string `json:"resultaat"`
	Toelichting string `json:"toelichting"`
	Score       int    `json:"score"`
}

type FoundationResponse struct {
	Risiconiveau    string `json:"risiconiveau" enum:"laag,hoog"`
	Advies          string `json:"advies"`
	GecontroleerdOp string `json:"gecontroleerd_op" format:"date-time"`
}

type StageLogResponse struct {
	ID         int64   `json:"id"`
	Module     string  `json:"module"`
	Status     string  `json:"status" enum:"running,done,failed"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
}

type ProjectStatusResponse struct {
	ProjectID  string             `json:"project_id"`
	TaskCounts map[string]int     `json:"task_counts"`
	Stages     []StageLogResponse `json:"stages"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func runResponse(r domain.CalculationRun) RunResponse {
	return RunResponse(r)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		ProjectID:        t.ProjectID,
		CalculationRunID: t.CalculationRunID,
		Action:           t.Action,
		Payload:          t.Payload,
		Status:           t.Status,
		AssignedTo:       t.AssignedTo,
		Error:            t.Error,
		CreatedAt:        t.CreatedAt,
		StartedAt:        t.StartedAt,
		FinishedAt:       t.FinishedAt,
	}
}

func reportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ProjectID:  r.ProjectID,
		ReportType: r.ReportType,
		Status:     r.Status,
		Body:       decodeJSONMap(r.BodyJSON),
		PdfURL:     r.PdfURL,
		CreatedAt:  r.CreatedAt,
	}
}

func stageLogResponse(s domain.StageLog) StageLogResponse {
	return StageLogResponse{
		ID:         s.ID,
		Module:     s.Module,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
