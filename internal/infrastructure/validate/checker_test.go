package validate

import (
	"context"
	"errors"
	"testing"
)

type fakeReader struct {
	count     int64
	countErr  error
	sample    []map[string]any
	sampleErr error
	sampleN   int
}

func (r *fakeReader) Count(context.Context) (int64, error) {
	return r.count, r.countErr
}

func (r *fakeReader) Sample(_ context.Context, n int) ([]map[string]any, error) {
	r.sampleN = n
	return r.sample, r.sampleErr
}

func TestCheckCountMatch(t *testing.T) {
	reader := &fakeReader{count: 150000}
	c := NewChecker(reader, 10, nil)

	report, err := c.Check(context.Background(), "job-1", 150000)
	if err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if !report.Pass {
		t.Errorf("report should pass, failed checks: %+v", report.Failed())
	}
	if len(report.Checks) != 1 {
		t.Errorf("got %d checks, want 1 (count only)", len(report.Checks))
	}
}

func TestCheckCountMismatch(t *testing.T) {
	reader := &fakeReader{count: 149500}
	c := NewChecker(reader, 10, nil)

	report, err := c.Check(context.Background(), "job-1", 150000)
	if err != nil {
		t.Fatalf("Check() = %v, mismatches are reported, not returned", err)
	}
	if report.Pass {
		t.Error("report should fail on a count mismatch")
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "record_count" {
		t.Errorf("Failed() = %+v", failed)
	}
}

func TestCheckRequiredFields(t *testing.T) {
	reader := &fakeReader{
		count: 2,
		sample: []map[string]any{
			{"uid": "0x1", "name": "a", "email": "a@example.com"},
			{"uid": "0x2", "name": "b"},
		},
	}
	c := NewChecker(reader, 5, []string{"name", "email"})

	report, err := c.Check(context.Background(), "job-1", 2)
	if err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if report.Pass {
		t.Error("report should fail, email is missing from one record")
	}
	if reader.sampleN != 5 {
		t.Errorf("sample size = %d, want 5", reader.sampleN)
	}

	var nameCheck, emailCheck bool
	for _, check := range report.Checks {
		switch check.Name {
		case "required_field:name":
			nameCheck = true
			if !check.Pass {
				t.Error("name is present everywhere and should pass")
			}
		case "required_field:email":
			emailCheck = true
			if check.Pass {
				t.Error("email is missing and should fail")
			}
		}
	}
	if !nameCheck || !emailCheck {
		t.Errorf("missing field checks in %+v", report.Checks)
	}
}

func TestCheckEmptySampleFails(t *testing.T) {
	reader := &fakeReader{count: 0, sample: nil}
	c := NewChecker(reader, 10, []string{"name"})

	report, err := c.Check(context.Background(), "job-1", 0)
	if err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if report.Pass {
		t.Error("an empty sample with required fields configured should fail")
	}
}

func TestCheckQueryFailure(t *testing.T) {
	reader := &fakeReader{countErr: errors.New("connection refused")}
	c := NewChecker(reader, 10, nil)

	if _, err := c.Check(context.Background(), "job-1", 100); err == nil {
		t.Error("Check() should return an error when validation itself cannot run")
	}
}

func TestCheckerDefaultsSampleSize(t *testing.T) {
	reader := &fakeReader{count: 1, sample: []map[string]any{{"name": "a"}}}
	c := NewChecker(reader, 0, []string{"name"})

	if _, err := c.Check(context.Background(), "job-1", 1); err != nil {
		t.Fatalf("Check() = %v", err)
	}
	if reader.sampleN != 10 {
		t.Errorf("sample size = %d, want the default 10", reader.sampleN)
	}
}
