package engine

import (
	"fmt"
	"strings"
)

// Stage is a normalized executor task action.
type Stage string

const (
	StageStartCalculation  Stage = "start_calculation"
	StageProjectScan       Stage = "project_scan"
	StageGenerateStabu     Stage = "generate_stabu"
	StageStartRekenwolk    Stage = "start_rekenwolk"
	StageDeriveQuantities  Stage = "derive_quantities"
	StageInstallatiesE     Stage = "installaties_e"
	StageInstallatiesW     Stage = "installaties_w"
	StagePlanning          Stage = "planning"
	StageFinalizeRekenwolk Stage = "finalize_rekenwolk"
	StageAssumptionsReport Stage = "assumptions_report"
	StageRiskReport        Stage = "risk_report"
	StageRapportage        Stage = "rapportage"
	StageFoundationCheck   Stage = "foundation_check"
	StageNenAnalysis       Stage = "nen_analysis"
)

// successors is the single source of truth for stage chaining. A stage not
// listed here is terminal.
var successors = map[Stage]Stage{
	StageStartRekenwolk:    StageDeriveQuantities,
	StageDeriveQuantities:  StageInstallatiesE,
	StageInstallatiesE:     StageInstallatiesW,
	StageInstallatiesW:     StagePlanning,
	StagePlanning:          StageFinalizeRekenwolk,
	StageAssumptionsReport: StageRiskReport,
	StageRiskReport:        StageRapportage,
	StageFoundationCheck:   StageNenAnalysis,
}

// Successor returns the next stage in the chain, or false for terminal stages.
func (s Stage) Successor() (Stage, bool) {
	next, ok := successors[s]
	return next, ok
}

// NormalizeAction maps a raw action string to its canonical stage form:
// lowercased, runs of characters outside [a-z0-9_] collapsed to a single
// underscore, leading and trailing underscores trimmed. The result is stable
// under repeated normalization.
func NormalizeAction(raw string) Stage {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	return Stage(strings.Trim(b.String(), "_"))
}

// UnknownActionError marks a task whose normalized action has no registered
// handler. The poller fails the task instead of crashing.
type UnknownActionError struct {
	Action string
}

func (e UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// StageError is a stage failure with a stage-prefixed machine code, e.g.
// QTY_NO_CALCULATIE. The code ends up in executor_tasks.error.
type StageError struct {
	Code    string
	Message string
}

func (e StageError) Error() string {
	return e.Code + ": " + e.Message
}

func stageErr(code, format string, args ...any) error {
	return StageError{Code: code, Message: fmt.Sprintf(format, args...)}
}
