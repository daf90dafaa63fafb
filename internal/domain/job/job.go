// Package job defines the migration job record and its status machine.
package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a migration job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// validTransitions maps each status to the statuses reachable from it.
// Transitions are monotonic: terminal states map to nothing.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// SourceFile references one migration input file. Kind "schema" files are
// applied serially before any "data" file is read.
type SourceFile struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "schema" or "data"
}

// FailureContext records where a job failed, with enough detail to resume
// or diagnose without re-running the whole job.
type FailureContext struct {
	Stage      string `json:"stage,omitempty"`
	BatchIndex int    `json:"batch_index,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Job represents one schema+data migration attempt. The orchestrator owns
// status transitions; the migration runner owns the progress counters.
// Jobs marshal through jobRecord, which carries a snapshot of the progress
// counters so they survive a store reload.
type Job struct {
	mu sync.RWMutex

	ID        string
	Status    Status
	Sources   []SourceFile
	BatchSize int

	// CompletedBatches holds the indexes of data batches confirmed written,
	// kept so a resumed run can skip them.
	CompletedBatches []int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	FinishedAt *time.Time
	Failure    *FailureContext

	progress *Progress
}

// jobRecord is the JSON form of a Job, for the store and the status API.
type jobRecord struct {
	ID               string          `json:"id"`
	Status           Status          `json:"status"`
	Sources          []SourceFile    `json:"sources"`
	BatchSize        int             `json:"batch_size"`
	CompletedBatches []int           `json:"completed_batches,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
	Failure          *FailureContext `json:"failure,omitempty"`
	Progress         Progress        `json:"progress"`
}

// MarshalJSON serializes the job with its current progress counters.
func (j *Job) MarshalJSON() ([]byte, error) {
	rec := &jobRecord{Progress: j.Progress().Snapshot()}

	j.mu.RLock()
	rec.ID = j.ID
	rec.Status = j.Status
	rec.Sources = j.Sources
	rec.BatchSize = j.BatchSize
	rec.CompletedBatches = j.CompletedBatches
	rec.CreatedAt = j.CreatedAt
	rec.UpdatedAt = j.UpdatedAt
	rec.FinishedAt = j.FinishedAt
	rec.Failure = j.Failure
	j.mu.RUnlock()

	return json.Marshal(rec)
}

// UnmarshalJSON restores a job, rehydrating the progress counters from the
// persisted snapshot.
func (j *Job) UnmarshalJSON(data []byte) error {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.ID = rec.ID
	j.Status = rec.Status
	j.Sources = rec.Sources
	j.BatchSize = rec.BatchSize
	j.CompletedBatches = rec.CompletedBatches
	j.CreatedAt = rec.CreatedAt
	j.UpdatedAt = rec.UpdatedAt
	j.FinishedAt = rec.FinishedAt
	j.Failure = rec.Failure

	jobID := rec.Progress.JobID
	if jobID == "" {
		jobID = rec.ID
	}
	j.progress = &Progress{
		JobID:          jobID,
		RecordsTotal:   rec.Progress.RecordsTotal,
		RecordsWritten: rec.Progress.RecordsWritten,
		BatchesTotal:   rec.Progress.BatchesTotal,
		BatchesDone:    rec.Progress.BatchesDone,
		Retries:        rec.Progress.Retries,
		Phase:          rec.Progress.Phase,
		Message:        rec.Progress.Message,
		StartedAt:      rec.Progress.StartedAt,
		UpdatedAt:      rec.Progress.UpdatedAt,
	}
	return nil
}

// New creates a pending job for the given sources.
func New(sources []SourceFile, batchSize int) *Job {
	now := time.Now()
	j := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Sources:   sources,
		BatchSize: batchSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	j.progress = NewProgress(j.ID)
	return j
}

// Transition moves the job to a new status. Moving out of a terminal state
// or skipping a state is rejected.
func (j *Job) Transition(to Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, allowed := range validTransitions[j.Status] {
		if allowed == to {
			j.Status = to
			j.UpdatedAt = time.Now()
			if to.Terminal() {
				t := j.UpdatedAt
				j.FinishedAt = &t
			}
			return nil
		}
	}
	return fmt.Errorf("invalid job status transition %s -> %s (job %s)", j.Status, to, j.ID)
}

// Fail transitions the job to failed and records the failure context.
// Failing an already terminal job is a no-op so the first failure wins,
// including under concurrent calls: the check and the write share one
// critical section.
func (j *Job) Fail(fctx FailureContext) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status.Terminal() {
		return
	}

	j.Status = StatusFailed
	j.UpdatedAt = time.Now()
	t := j.UpdatedAt
	j.FinishedAt = &t
	j.Failure = &fctx
}

// Resume returns a failed job to running for another attempt. The completed
// batch set is kept so batches already confirmed written are skipped.
func (j *Job) Resume() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.Status != StatusFailed {
		return fmt.Errorf("only failed jobs can be resumed, job %s is %s", j.ID, j.Status)
	}
	j.Status = StatusRunning
	j.Failure = nil
	j.FinishedAt = nil
	j.UpdatedAt = time.Now()
	return nil
}

// CurrentStatus returns the status under the read lock.
func (j *Job) CurrentStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// MarkBatchComplete records a data batch as confirmed written.
func (j *Job) MarkBatchComplete(index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.CompletedBatches = append(j.CompletedBatches, index)
	j.UpdatedAt = time.Now()
}

// IsBatchComplete reports whether a batch index was already written,
// used when resuming a failed job.
func (j *Job) IsBatchComplete(index int) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, i := range j.CompletedBatches {
		if i == index {
			return true
		}
	}
	return false
}

// Progress returns the job's progress tracker.
func (j *Job) Progress() *Progress {
	if j.progress == nil {
		j.progress = NewProgress(j.ID)
	}
	return j.progress
}

// SchemaSources returns the schema files in input order.
func (j *Job) SchemaSources() []SourceFile {
	return j.sourcesOfKind("schema")
}

// DataSources returns the data files in input order.
func (j *Job) DataSources() []SourceFile {
	return j.sourcesOfKind("data")
}

func (j *Job) sourcesOfKind(kind string) []SourceFile {
	var out []SourceFile
	for _, s := range j.Sources {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}
