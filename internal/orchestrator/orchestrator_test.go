package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	domaindeploy "github.com/graphport/graphport/internal/domain/deploy"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/domain/provision"
	"github.com/graphport/graphport/internal/domain/target"
	"github.com/graphport/graphport/internal/domain/validation"
)

type fakeProvisioner struct {
	handles []provision.Handle
	err     error
	calls   int
}

func (f *fakeProvisioner) Ensure(context.Context, provision.Spec) ([]provision.Handle, error) {
	f.calls++
	return f.handles, f.err
}

type fakeDeployer struct {
	rev         *domaindeploy.Revision
	deployErr   error
	rollbacks   []string
	rollbackErr error
	deployCalls int
}

func (f *fakeDeployer) Deploy(context.Context, domaindeploy.Request) (*domaindeploy.Revision, error) {
	f.deployCalls++
	return f.rev, f.deployErr
}

func (f *fakeDeployer) Rollback(_ context.Context, _, revision string) error {
	f.rollbacks = append(f.rollbacks, revision)
	return f.rollbackErr
}

type fakeMigrator struct {
	err        error
	seenTarget *target.Target
}

func (f *fakeMigrator) Run(_ context.Context, j *job.Job, t *target.Target) error {
	f.seenTarget = t
	if f.err == nil {
		j.Progress().SetTotals(100, 1)
		j.Progress().AddWritten(100)
	}
	return f.err
}

type fakeValidator struct {
	report *validation.Report
	err    error
}

func (f *fakeValidator) Check(_ context.Context, jobID string, _ *target.Target, _ int64) (*validation.Report, error) {
	return f.report, f.err
}

func passingReport(jobID string) *validation.Report {
	r := validation.NewReport(jobID)
	r.AddCount(100, 100)
	return r
}

func failingReport(jobID string) *validation.Report {
	r := validation.NewReport(jobID)
	r.AddCount(100, 90)
	return r
}

func testSpec() provision.Spec {
	return provision.Spec{
		Project: "test-project",
		Region:  "us-central1",
		Bucket:  provision.BucketSpec{Name: "b"},
		Network: provision.NetworkSpec{Name: "n", Subnet: "s", CIDRRange: "10.0.0.0/28"},
	}
}

func testRevision() *domaindeploy.Revision {
	return &domaindeploy.Revision{
		Name:          "graphdb-00002-new",
		URL:           "https://graphdb-abc-uc.a.run.app",
		PriorRevision: "graphdb-00001-old",
	}
}

func testTarget(t *testing.T) *target.Target {
	t.Helper()
	// Address intentionally empty: filled in from the deployed URL.
	return &target.Target{}
}

func newTestStore(t *testing.T) *job.Store {
	t.Helper()
	store, err := job.NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	return store
}

func testJob() *job.Job {
	return job.New([]job.SourceFile{{Path: "/exports/data.json", Kind: "data"}}, 100)
}

func assemble(t *testing.T, p *fakeProvisioner, d *fakeDeployer, m *fakeMigrator, v *fakeValidator) (*Orchestrator, *job.Store) {
	t.Helper()
	store := newTestStore(t)
	o := New(p, d, m, v, testSpec(), domaindeploy.Request{ServiceName: "graphdb"}, testTarget(t), 100, store)
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	return o, store
}

func TestExecuteHappyPath(t *testing.T) {
	p := &fakeProvisioner{handles: []provision.Handle{{Kind: provision.KindBucket, ID: "b", Created: true}}}
	d := &fakeDeployer{rev: testRevision()}
	m := &fakeMigrator{}
	v := &fakeValidator{}
	o, store := assemble(t, p, d, m, v)

	j := testJob()
	v.report = passingReport(j.ID)

	result, err := o.Execute(context.Background(), j, nil)
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if result.State != StateDone {
		t.Errorf("State = %s, want done", result.State)
	}
	if j.CurrentStatus() != job.StatusSucceeded {
		t.Errorf("job status = %s, want succeeded", j.CurrentStatus())
	}
	if len(d.rollbacks) != 0 {
		t.Errorf("rollbacks = %v, want none", d.rollbacks)
	}
	if result.RolledBack {
		t.Error("RolledBack should be false on success")
	}

	// The migrator must see the deployed URL, not the empty configured target.
	if m.seenTarget == nil || m.seenTarget.Address != "https://graphdb-abc-uc.a.run.app" {
		t.Errorf("migrator target = %+v", m.seenTarget)
	}

	// The terminal job state must be persisted.
	saved, err := store.Get(j.ID)
	if err != nil {
		t.Fatalf("store.Get() = %v", err)
	}
	if saved.Status != job.StatusSucceeded {
		t.Errorf("persisted status = %s", saved.Status)
	}
}

func TestExecuteProvisionFailureSkipsRollback(t *testing.T) {
	p := &fakeProvisioner{err: provision.NewQuotaError(provision.KindBucket, "b", errors.New("quota"))}
	d := &fakeDeployer{rev: testRevision()}
	o, _ := assemble(t, p, d, &fakeMigrator{}, &fakeValidator{report: passingReport("x")})

	j := testJob()
	result, err := o.Execute(context.Background(), j, nil)
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if result.State != StateFailed {
		t.Errorf("State = %s, want failed", result.State)
	}
	if d.deployCalls != 0 {
		t.Error("deploy must not run after a provision failure")
	}
	if len(d.rollbacks) != 0 {
		t.Error("nothing is deployed, so nothing should be rolled back")
	}
	if j.Failure == nil || j.Failure.Stage != string(StateProvisioning) {
		t.Errorf("Failure = %+v", j.Failure)
	}
}

func TestExecuteDeployTimeoutRollsBack(t *testing.T) {
	rev := testRevision()
	d := &fakeDeployer{
		rev:       rev,
		deployErr: &domaindeploy.TimeoutError{ServiceName: "graphdb", Revision: rev.Name},
	}
	o, _ := assemble(t, &fakeProvisioner{}, d, &fakeMigrator{}, &fakeValidator{report: passingReport("x")})

	j := testJob()
	result, err := o.Execute(context.Background(), j, nil)
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if !result.RolledBack {
		t.Error("a rollbackable deploy failure should roll back")
	}
	if len(d.rollbacks) != 1 || d.rollbacks[0] != "graphdb-00001-old" {
		t.Errorf("rollbacks = %v, want the prior revision", d.rollbacks)
	}
}

func TestExecuteMigrationFailureRollsBack(t *testing.T) {
	d := &fakeDeployer{rev: testRevision()}
	m := &fakeMigrator{err: &batchError{jobID: "j", batch: 7}}
	o, _ := assemble(t, &fakeProvisioner{}, d, m, &fakeValidator{report: passingReport("x")})

	j := testJob()
	result, err := o.Execute(context.Background(), j, nil)
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if !result.RolledBack {
		t.Error("a migration failure should roll back the revision")
	}
	if j.CurrentStatus() != job.StatusFailed {
		t.Errorf("job status = %s, want failed", j.CurrentStatus())
	}
	if j.Failure == nil || j.Failure.BatchIndex != 7 {
		t.Errorf("Failure = %+v, want batch index 7 recorded", j.Failure)
	}
}

func TestExecuteValidationMismatchRollsBack(t *testing.T) {
	d := &fakeDeployer{rev: testRevision()}
	o, _ := assemble(t, &fakeProvisioner{}, d, &fakeMigrator{}, &fakeValidator{})

	j := testJob()
	v := &fakeValidator{report: failingReport(j.ID)}
	o.validator = v

	result, err := o.Execute(context.Background(), j, nil)
	var merr *validation.MismatchError
	if !errors.As(err, &merr) {
		t.Fatalf("Execute() = %v, want *MismatchError", err)
	}
	if !result.RolledBack {
		t.Error("a validation mismatch should roll traffic back")
	}
	if result.Report == nil || result.Report.Pass {
		t.Errorf("Report = %+v, want the failing report surfaced", result.Report)
	}
	if j.CurrentStatus() != job.StatusFailed {
		t.Errorf("job status = %s, want failed", j.CurrentStatus())
	}
}

func TestExecuteStateTransitionsObserved(t *testing.T) {
	d := &fakeDeployer{rev: testRevision()}
	o, _ := assemble(t, &fakeProvisioner{}, d, &fakeMigrator{}, &fakeValidator{})

	j := testJob()
	o.validator = &fakeValidator{report: passingReport(j.ID)}

	var transitions []State
	_, err := o.Execute(context.Background(), j, &Options{
		OnStateChange: func(from, to State) { transitions = append(transitions, to) },
	})
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	want := []State{StateDeploying, StateMigrating, StateValidating, StateDone}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

// batchError mimics a migration write error carrying batch context.
type batchError struct {
	jobID string
	batch int
}

func (e *batchError) Error() string { return "write failed" }

func (e *batchError) BatchContext() (string, int) { return e.jobID, e.batch }
