package services

import (
	"errors"
	"time"

	"caixa/internal/core"
)

// ItemError records a template that could not be projected.
type ItemError struct {
	TemplateID  string `json:"templateId"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Report summarizes one projector run.
type Report struct {
	ReferenceDate  core.Date   `json:"referenceDate"`
	TotalTemplates int         `json:"totalTemplates"`
	Created        int         `json:"created"`
	Skipped        int         `json:"skipped"`
	Errors         []ItemError `json:"errors"`
	ProcessedAt    time.Time   `json:"processedAt"`

	// Aborted is set when the run hit its timeout before visiting every template.
	Aborted bool `json:"aborted,omitempty"`
}

// Processed returns how many templates reached a final outcome.
func (r Report) Processed() int {
	return r.Created + r.Skipped + len(r.Errors)
}

// RunStats is the counter block of a RunResult.
type RunStats struct {
	ReferenceDate  core.Date `json:"referenceDate"`
	TotalTemplates int       `json:"totalTemplates"`
	Created        int       `json:"created"`
	Skipped        int       `json:"skipped"`
	Errors         int       `json:"errors"`
}

// RunResult is the envelope returned to job triggers:
// {success: true, stats, errors?, processedAt} on completion, even with
// per-item errors, and {success: false, error} when the run could not start.
// A timed-out run reports success false, aborted true and its partial stats.
type RunResult struct {
	Success     bool        `json:"success"`
	Aborted     bool        `json:"aborted,omitempty"`
	Stats       *RunStats   `json:"stats,omitempty"`
	Errors      []ItemError `json:"errors,omitempty"`
	ProcessedAt *time.Time  `json:"processedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// NewRunResult builds the envelope for the outcome of Run.
func NewRunResult(report Report, err error) RunResult {
	if err != nil && !errors.Is(err, ErrRunAborted) {
		return RunResult{Success: false, Error: err.Error()}
	}

	processedAt := report.ProcessedAt
	res := RunResult{
		Success: err == nil,
		Stats: &RunStats{
			ReferenceDate:  report.ReferenceDate,
			TotalTemplates: report.TotalTemplates,
			Created:        report.Created,
			Skipped:        report.Skipped,
			Errors:         len(report.Errors),
		},
		Errors:      report.Errors,
		ProcessedAt: &processedAt,
	}
	if err != nil {
		res.Aborted = true
		res.Error = err.Error()
	}
	return res
}
