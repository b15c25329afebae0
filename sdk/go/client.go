package rekenwolksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Rekenwolk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	Naam        string `json:"naam"`
	Adres       string `json:"adres,omitempty"`
	Plaatsnaam  string `json:"plaatsnaam,omitempty"`
	ProjectType string `json:"project_type"`
	CreatedAt   string `json:"created_at"`
}

// CalculationRun represents a pipeline run for a project.
type CalculationRun struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Status       string `json:"status"`
	CurrentStep  string `json:"current_step"`
	SourceTaskID string `json:"source_task_id,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Task represents an executor task.
type Task struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	CalculationRunID string         `json:"calculation_run_id,omitempty"`
	Action           string         `json:"action"`
	Payload          map[string]any `json:"payload,omitempty"`
	Status           string         `json:"status"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        string         `json:"created_at"`
}

// Report represents a generated report.
type Report struct {
	ProjectID  string         `json:"project_id"`
	ReportType string         `json:"report_type"`
	Status     string         `json:"status"`
	Body       map[string]any `json:"body,omitempty"`
	PdfURL     string         `json:"pdf_url,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// StartResult is the outcome of a start-calculation call.
type StartResult struct {
	CalculationRunID string `json:"calculation_run_id"`
	Status           string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StartOptions are the optional parameters for StartCalculation.
type StartOptions struct {
	ScenarioName     string   `json:"scenario_name,omitempty"`
	CalculationType  string   `json:"calculation_type,omitempty"`
	CalculationLevel string   `json:"calculation_level,omitempty"`
	FixedPrice       *float64 `json:"fixed_price,omitempty"`
}

// StartCalculation starts (or dedups onto) a calculation run for a project.
func (c *Client) StartCalculation(ctx context.Context, projectID string, opts StartOptions) (StartResult, error) {
	body := map[string]any{
		"project_id": projectID,
	}
	if opts.ScenarioName != "" {
		body["scenario_name"] = opts.ScenarioName
	}
	if opts.CalculationType != "" {
		body["calculation_type"] = opts.CalculationType
	}
	if opts.CalculationLevel != "" {
		body["calculation_level"] = opts.CalculationLevel
	}
	if opts.FixedPrice != nil {
		body["fixed_price"] = *opts.FixedPrice
	}
	var resp StartResult
	err := c.do(ctx, http.MethodPost, "v0/start-calculation", body, &resp)
	return resp, err
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, naam, adres, plaatsnaam, projectType string) (Project, error) {
	body := map[string]any{
		"naam":         naam,
		"adres":        adres,
		"plaatsnaam":   plaatsnaam,
		"project_type": projectType,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GetRun fetches a calculation run by id.
func (c *Client) GetRun(ctx context.Context, id string) (CalculationRun, error) {
	var resp CalculationRun
	err := c.do(ctx, http.MethodGet, "v0/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRuns returns the calculation runs for a project, newest first.
func (c *Client) ListRuns(ctx context.Context, projectID string) ([]CalculationRun, error) {
	var resp []CalculationRun
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "runs"), nil, &resp)
	return resp, err
}

// EnqueueTask inserts an ad hoc executor task for a project.
func (c *Client) EnqueueTask(ctx context.Context, projectID, action string, payload map[string]any) (Task, error) {
	body := map[string]any{"action": action}
	if payload != nil {
		body["payload"] = payload
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "tasks"), body, &resp)
	return resp, err
}

// GetTask fetches an executor task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GetReport fetches a generated report by type (calculatie, assumptions,
// risk, final).
func (c *Client) GetReport(ctx context.Context, projectID, reportType string) (Report, error) {
	var resp Report
	endpoint := c.projectPath(projectID, "reports/"+url.PathEscape(reportType))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, optionally scoped to a project.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := "v0/events"
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("v0/projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
