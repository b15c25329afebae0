package domain

type Project struct {
	ID          string `json:"id"`
	Naam        string `json:"naam"`
	Adres       string `json:"adres,omitempty"`
	Plaatsnaam  string `json:"plaatsnaam,omitempty"`
	ProjectType string `json:"project_type" enum:"nieuwbouw,verbouw"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	CalculationRunID *string        `json:"calculation_run_id,omitempty"`
	Action           string         `json:"action"`
	Payload          map[string]any `json:"payload"`
	Status           string         `json:"status" enum:"open,running,done,completed,failed"`
	AssignedTo       string         `json:"assigned_to"`
	Error            *string        `json:"error,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	StartedAt        *string        `json:"started_at,omitempty" format:"date-time"`
	FinishedAt       *string        `json:"finished_at,omitempty" format:"date-time"`
}

type CalculationRun struct {
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

type Calculation struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Kostprijs      float64 `json:"kostprijs"`
	Verkoopprijs   float64 `json:"verkoopprijs"`
	Marge          float64 `json:"marge"`
	WorkflowStatus string  `json:"workflow_status"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type CalculationLine struct {
	ID             string  `json:"id"`
	CalculatieID   string  `json:"calculatie_id"`
	Code           string  `json:"code"`
	Omschrijving   string  `json:"omschrijving"`
	Eenheid        string  `json:"eenheid"`
	Hoeveelheid    float64 `json:"hoeveelheid"`
	Materiaalprijs float64 `json:"materiaalprijs"`
	Arbeidsprijs   float64 `json:"arbeidsprijs"`
	Prijs          float64 `json:"prijs"`
	Totaal         float64 `json:"totaal"`
}

// StabuPost is one STABU catalog position selected for a project.
type StabuPost struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Code           string  `json:"code"`
	Omschrijving   string  `json:"omschrijving"`
	Eenheid        string  `json:"eenheid"`
	Normuren       float64 `json:"normuren"`
	Materiaalprijs float64 `json:"materiaalprijs"`
	Arbeidsprijs   float64 `json:"arbeidsprijs"`
	Hoeveelheid    float64 `json:"hoeveelheid"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

// CatalogItem is one installation catalog position (E/W disciplines).
type CatalogItem struct {
	Code           string  `json:"code"`
	Omschrijving   string  `json:"omschrijving"`
	Eenheid        string  `json:"eenheid"`
	Materiaalprijs float64 `json:"materiaalprijs"`
	Arbeidsprijs   float64 `json:"arbeidsprijs"`
}

// Quantity is a measured amount for one code within a project.
type Quantity struct {
	ProjectID   string  `json:"project_id"`
	Code        string  `json:"code"`
	Hoeveelheid float64 `json:"hoeveelheid"`
}

type ScanResult struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Oppervlakte float64 `json:"oppervlakte"`
	ProjectType string  `json:"project_type"`
	Documenten  int     `json:"documenten"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type PlanningPhase struct {
	ID           string  `json:"id"`
	CalculatieID string  `json:"calculatie_id"`
	Fase         string  `json:"fase" enum:"ruwbouw,afbouw"`
	Hoeveelheid  float64 `json:"hoeveelheid"`
	DuurDagen    int     `json:"duur_dagen"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type RiskAllocation struct {
	ID           string  `json:"id"`
	CalculatieID string  `json:"calculatie_id"`
	Categorie    string  `json:"categorie"`
	Percentage   float64 `json:"percentage"`
	Bedrag       float64 `json:"bedrag"`
	Bouwsom      float64 `json:"bouwsom"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type NenResult struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	CalculatieID string `json:"calculatie_id"`
	NenCode      string `json:"nen_code"`
	Resultaat    string `json:"resultaat" enum:"ok,fail"`
	Toelichting  string `json:"toelichting"`
	Score        int    `json:"score"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type FoundationCheck struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	CalculatieID    string `json:"calculatie_id"`
	Risiconiveau    string `json:"risiconiveau" enum:"laag,hoog"`
	Advies          string `json:"advies"`
	GecontroleerdOp string `json:"gecontroleerd_op" format:"date-time"`
}

type Report struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	ReportType string `json:"report_type"`
	Status     string `json:"status"`
	BodyJSON   string `json:"body_json,omitempty"`
	PdfURL     string `json:"pdf_url,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// StageLog is one project_initialization_log entry: the per-module progress
// trail exposed by the pipeline to the UI.
type StageLog struct {
	ID         int64   `json:"id"`
	ProjectID  string  `json:"project_id"`
	Module     string  `json:"module"`
	Status     string  `json:"status" enum:"running,done,failed"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
