package job

import (
	"sync"
	"testing"
)

func testSources() []SourceFile {
	return []SourceFile{
		{Path: "/exports/schema.rdf", Kind: "schema"},
		{Path: "/exports/data-0.json", Kind: "data"},
		{Path: "/exports/data-1.json", Kind: "data"},
	}
}

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		wantErr bool
	}{
		{"full lifecycle", []Status{StatusRunning, StatusSucceeded}, false},
		{"failure from running", []Status{StatusRunning, StatusFailed}, false},
		{"failure while pending", []Status{StatusFailed}, false},
		{"skip running", []Status{StatusSucceeded}, true},
		{"out of succeeded", []Status{StatusRunning, StatusSucceeded, StatusRunning}, true},
		{"out of failed", []Status{StatusFailed, StatusRunning}, true},
		{"backwards", []Status{StatusRunning, StatusPending}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(testSources(), 100)

			var err error
			for _, to := range tt.path {
				if err = j.Transition(to); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("transition path %v: err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestJobTerminalSetsFinishedAt(t *testing.T) {
	j := New(testSources(), 100)
	if j.FinishedAt != nil {
		t.Fatal("new job should not have FinishedAt")
	}

	if err := j.Transition(StatusRunning); err != nil {
		t.Fatalf("Transition(running) = %v", err)
	}
	if j.FinishedAt != nil {
		t.Error("running job should not have FinishedAt")
	}

	if err := j.Transition(StatusSucceeded); err != nil {
		t.Fatalf("Transition(succeeded) = %v", err)
	}
	if j.FinishedAt == nil {
		t.Error("succeeded job should have FinishedAt")
	}
}

func TestJobFailFirstWins(t *testing.T) {
	j := New(testSources(), 100)
	if err := j.Transition(StatusRunning); err != nil {
		t.Fatalf("Transition(running) = %v", err)
	}

	j.Fail(FailureContext{Stage: "migrating", BatchIndex: 7, Message: "first"})
	j.Fail(FailureContext{Stage: "validating", Message: "second"})

	if j.CurrentStatus() != StatusFailed {
		t.Fatalf("status = %s, want failed", j.CurrentStatus())
	}
	if j.Failure == nil || j.Failure.Message != "first" {
		t.Errorf("Failure = %+v, want the first failure kept", j.Failure)
	}
	if j.Failure.BatchIndex != 7 {
		t.Errorf("BatchIndex = %d, want 7", j.Failure.BatchIndex)
	}
}

func TestJobFailConcurrent(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := New(testSources(), 100)
		_ = j.Transition(StatusRunning)

		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				<-start
				j.Fail(FailureContext{Stage: "migrating", BatchIndex: g, Message: "concurrent"})
			}(g)
		}
		close(start)
		wg.Wait()

		if j.CurrentStatus() != StatusFailed {
			t.Fatalf("status = %s, want failed", j.CurrentStatus())
		}
		if j.Failure == nil {
			t.Fatal("no failure recorded")
		}
		kept := *j.Failure

		// The job is terminal now; a late Fail must not overwrite the
		// recorded context.
		j.Fail(FailureContext{Stage: "validating", Message: "late"})
		if *j.Failure != kept {
			t.Fatalf("Failure overwritten after terminal state: %+v", j.Failure)
		}
	}
}

func TestJobResume(t *testing.T) {
	j := New(testSources(), 100)
	if err := j.Resume(); err == nil {
		t.Error("resuming a pending job should fail")
	}

	_ = j.Transition(StatusRunning)
	j.MarkBatchComplete(0)
	j.MarkBatchComplete(3)
	j.Fail(FailureContext{Stage: "migrating", BatchIndex: 4, Message: "boom"})

	if err := j.Resume(); err != nil {
		t.Fatalf("Resume() = %v", err)
	}
	if j.CurrentStatus() != StatusRunning {
		t.Errorf("status after resume = %s, want running", j.CurrentStatus())
	}
	if j.Failure != nil {
		t.Error("resume should clear the failure context")
	}
	if j.FinishedAt != nil {
		t.Error("resume should clear FinishedAt")
	}
	if !j.IsBatchComplete(0) || !j.IsBatchComplete(3) {
		t.Error("resume should keep the completed batch set")
	}
	if j.IsBatchComplete(1) {
		t.Error("batch 1 was never completed")
	}
}

func TestJobSourcesByKind(t *testing.T) {
	j := New(testSources(), 100)

	schema := j.SchemaSources()
	if len(schema) != 1 || schema[0].Path != "/exports/schema.rdf" {
		t.Errorf("SchemaSources() = %+v", schema)
	}
	data := j.DataSources()
	if len(data) != 2 {
		t.Errorf("DataSources() returned %d files, want 2", len(data))
	}
}

func TestProgressCounters(t *testing.T) {
	p := NewProgress("test-job")
	p.SetTotals(500, 5)
	p.SetPhase("data")

	p.AddWritten(100)
	p.AddWritten(250)
	p.RecordRetry()

	if got := p.Written(); got != 350 {
		t.Errorf("Written() = %d, want 350", got)
	}
	if got := p.Percentage(); got != 70 {
		t.Errorf("Percentage() = %v, want 70", got)
	}

	snap := p.Snapshot()
	if snap.RecordsTotal != 500 || snap.RecordsWritten != 350 || snap.Retries != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.Phase != "data" {
		t.Errorf("Phase = %q, want data", snap.Phase)
	}
}

func TestProgressPercentageZeroTotal(t *testing.T) {
	p := NewProgress("test-job")
	if got := p.Percentage(); got != 0 {
		t.Errorf("Percentage() with no totals = %v, want 0", got)
	}
}
