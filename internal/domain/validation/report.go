// Package validation defines the post-migration validation report.
package validation

import (
	"fmt"
	"time"
)

// Check is one expected-vs-observed comparison.
type Check struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
	Pass     bool   `json:"pass"`
	Detail   string `json:"detail,omitempty"`
}

// Report is produced once per migration job. It never reflects any mutation
// of the target: validation is read-only.
type Report struct {
	JobID     string    `json:"job_id"`
	Checks    []Check   `json:"checks"`
	Pass      bool      `json:"pass"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewReport creates an empty passing report for a job.
func NewReport(jobID string) *Report {
	return &Report{JobID: jobID, Pass: true, CheckedAt: time.Now()}
}

// Add appends a check and folds its result into the overall verdict.
func (r *Report) Add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Pass {
		r.Pass = false
	}
}

// AddCount appends an exact-match record count check.
func (r *Report) AddCount(expected, observed int64) {
	r.Add(Check{
		Name:     "record_count",
		Expected: fmt.Sprintf("%d", expected),
		Observed: fmt.Sprintf("%d", observed),
		Pass:     expected == observed,
	})
}

// Failed returns the checks that did not pass.
func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Pass {
			out = append(out, c)
		}
	}
	return out
}

// MismatchError is returned when observed counts disagree with expected
// values. It halts the orchestrator in Failed but does not trigger a data
// rollback: a partial migration may still be valuable.
type MismatchError struct {
	JobID  string
	Report *Report
}

func (e *MismatchError) Error() string {
	failed := e.Report.Failed()
	if len(failed) == 0 {
		return fmt.Sprintf("validation failed for job %s", e.JobID)
	}
	c := failed[0]
	return fmt.Sprintf("validation failed for job %s: %s expected %s, observed %s (%d check(s) failed)",
		e.JobID, c.Name, c.Expected, c.Observed, len(failed))
}
