package job

import (
	"fmt"
	"sync"
	"time"
)

// Progress tracks the running record count of a migration job. The runner is
// the only writer; everyone else reads snapshots.
type Progress struct {
	mu sync.RWMutex

	// JobID identifies which job this progress belongs to.
	JobID string `json:"job_id"`
	// RecordsTotal is the total number of records to write.
	RecordsTotal int64 `json:"records_total"`
	// RecordsWritten is the number of records confirmed written.
	RecordsWritten int64 `json:"records_written"`
	// BatchesTotal is the total number of data batches.
	BatchesTotal int `json:"batches_total"`
	// BatchesDone is the number of batches confirmed written.
	BatchesDone int `json:"batches_done"`
	// Retries counts transient failures that were retried.
	Retries int `json:"retries,omitempty"`
	// Phase describes the current phase ("schema", "data", "validating").
	Phase string `json:"phase,omitempty"`
	// Message is a human-readable status message.
	Message string `json:"message,omitempty"`
	// StartedAt is when the job started.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is when progress was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProgress creates a progress tracker for a job.
func NewProgress(jobID string) *Progress {
	now := time.Now()
	return &Progress{JobID: jobID, StartedAt: now, UpdatedAt: now}
}

// SetTotals sets the expected record and batch counts.
func (p *Progress) SetTotals(records int64, batches int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecordsTotal = records
	p.BatchesTotal = batches
	p.UpdatedAt = time.Now()
}

// SetPhase updates the current phase.
func (p *Progress) SetPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Phase = phase
	p.UpdatedAt = time.Now()
}

// SetMessage updates the status message.
func (p *Progress) SetMessage(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Message = msg
	p.UpdatedAt = time.Now()
}

// AddWritten records one completed batch of written records.
func (p *Progress) AddWritten(records int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecordsWritten += records
	p.BatchesDone++
	p.UpdatedAt = time.Now()
}

// RecordRetry counts a retried transient failure.
func (p *Progress) RecordRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Retries++
	p.UpdatedAt = time.Now()
}

// Written returns the confirmed written record count.
func (p *Progress) Written() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.RecordsWritten
}

// Percentage returns the completion percentage based on records.
// Returns 0 if RecordsTotal is 0 to avoid division by zero.
func (p *Progress) Percentage() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.RecordsTotal == 0 {
		return 0
	}
	return float64(p.RecordsWritten) / float64(p.RecordsTotal) * 100
}

// Snapshot returns a copy safe for concurrent readers.
func (p *Progress) Snapshot() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Progress{
		JobID:          p.JobID,
		RecordsTotal:   p.RecordsTotal,
		RecordsWritten: p.RecordsWritten,
		BatchesTotal:   p.BatchesTotal,
		BatchesDone:    p.BatchesDone,
		Retries:        p.Retries,
		Phase:          p.Phase,
		Message:        p.Message,
		StartedAt:      p.StartedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// String returns a human-readable summary of the progress.
func (p *Progress) String() string {
	s := p.Snapshot()
	if s.RecordsTotal == 0 {
		return fmt.Sprintf("[%s] %s - %d records written", s.Phase, s.Message, s.RecordsWritten)
	}
	return fmt.Sprintf("[%s] %.1f%% - %d/%d records, %d/%d batches",
		s.Phase,
		float64(s.RecordsWritten)/float64(s.RecordsTotal)*100,
		s.RecordsWritten, s.RecordsTotal,
		s.BatchesDone, s.BatchesTotal)
}
