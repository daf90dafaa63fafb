// Package orchestrator sequences provisioning, deployment, migration and
// validation, with rollback on failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	domaindeploy "github.com/graphport/graphport/internal/domain/deploy"
	"github.com/graphport/graphport/internal/domain/job"
	"github.com/graphport/graphport/internal/domain/provision"
	"github.com/graphport/graphport/internal/domain/target"
	"github.com/graphport/graphport/internal/domain/validation"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// State is the orchestrator's position in the run.
type State string

const (
	StateProvisioning State = "provisioning"
	StateDeploying    State = "deploying"
	StateMigrating    State = "migrating"
	StateValidating   State = "validating"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Provisioner ensures the cloud resources exist.
type Provisioner interface {
	Ensure(ctx context.Context, spec provision.Spec) ([]provision.Handle, error)
}

// Deployer rolls out a revision and can restore the prior one.
type Deployer interface {
	Deploy(ctx context.Context, req domaindeploy.Request) (*domaindeploy.Revision, error)
	Rollback(ctx context.Context, serviceName, revision string) error
}

// Migrator streams the job's schema and data into the target.
type Migrator interface {
	Run(ctx context.Context, j *job.Job, t *target.Target) error
}

// Validator compares the migrated target against the expected values.
type Validator interface {
	Check(ctx context.Context, jobID string, t *target.Target, expected int64) (*validation.Report, error)
}

// Options configures one execution.
type Options struct {
	// Timeout bounds the whole run, zero for no bound.
	Timeout time.Duration

	// OnStateChange is called on every state transition.
	OnStateChange func(from, to State)

	// OnProgress is called after each migration progress change the
	// orchestrator observes.
	OnProgress func(p job.Progress)
}

// Result holds the outcome of one execution.
type Result struct {
	State      State
	Handles    []provision.Handle
	Revision   *domaindeploy.Revision
	Report     *validation.Report
	RolledBack bool
	Duration   time.Duration
	Err        error
}

// Orchestrator drives one migration job end to end.
type Orchestrator struct {
	provisioner Provisioner
	deployer    Deployer
	migrator    Migrator
	validator   Validator

	spec      provision.Spec
	deployReq domaindeploy.Request
	target    *target.Target
	expected  int64

	store *job.Store
}

// New assembles an orchestrator. store may be nil to skip persistence.
func New(p Provisioner, d Deployer, m Migrator, v Validator,
	spec provision.Spec, deployReq domaindeploy.Request, t *target.Target,
	expected int64, store *job.Store) *Orchestrator {
	return &Orchestrator{
		provisioner: p,
		deployer:    d,
		migrator:    m,
		validator:   v,
		spec:        spec,
		deployReq:   deployReq,
		target:      t,
		expected:    expected,
		store:       store,
	}
}

// Execute runs the state machine for a job. The job record is the only
// shared state between the orchestrator and the runner: the orchestrator
// owns status transitions, the runner owns progress.
func (o *Orchestrator) Execute(ctx context.Context, j *job.Job, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result := &Result{}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		o.persist(j)
	}()

	log := logger.WithJob(j.ID)
	state := StateProvisioning
	transition := func(to State) {
		if opts.OnStateChange != nil {
			opts.OnStateChange(state, to)
		}
		log.Info("state change", "from", state, "to", to)
		state = to
		result.State = to
	}
	result.State = state
	log.Info("run started", "state", state)

	// Provisioning. Provision errors are fatal and surfaced immediately:
	// nothing is deployed yet, so there is nothing to compensate.
	handles, err := o.provisioner.Ensure(ctx, o.spec)
	if err != nil {
		j.Fail(job.FailureContext{Stage: string(StateProvisioning), Message: err.Error()})
		transition(StateFailed)
		result.Err = err
		return result, err
	}
	result.Handles = handles

	// Deploying.
	transition(StateDeploying)
	rev, err := o.deployer.Deploy(ctx, o.deployReq)
	result.Revision = rev
	if err != nil {
		if rev != nil && domaindeploy.IsRollbackable(err) {
			result.RolledBack = o.rollback(ctx, rev)
		}
		j.Fail(job.FailureContext{Stage: string(StateDeploying), Message: err.Error()})
		transition(StateFailed)
		result.Err = err
		return result, err
	}

	t := o.target
	if t.Address == "" && rev != nil {
		t = t.WithAddress(rev.URL)
	}

	// Migrating.
	transition(StateMigrating)
	if err := j.Transition(job.StatusRunning); err != nil {
		transition(StateFailed)
		result.Err = err
		return result, err
	}
	o.persist(j)

	if err := o.migrator.Run(ctx, j, t); err != nil {
		result.RolledBack = o.rollback(ctx, rev)
		j.Fail(failureFor(StateMigrating, err))
		transition(StateFailed)
		result.Err = err
		return result, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(j.Progress().Snapshot())
	}

	// Validating.
	transition(StateValidating)
	report, err := o.validator.Check(ctx, j.ID, t, o.expected)
	result.Report = report
	if err != nil {
		result.RolledBack = o.rollback(ctx, rev)
		j.Fail(job.FailureContext{Stage: string(StateValidating), Message: err.Error()})
		transition(StateFailed)
		result.Err = err
		return result, err
	}
	if !report.Pass {
		// Mismatch restores the prior serving revision but leaves the
		// migrated data in place: a partial migration may still be valuable.
		mismatch := &validation.MismatchError{JobID: j.ID, Report: report}
		result.RolledBack = o.rollback(ctx, rev)
		j.Fail(job.FailureContext{Stage: string(StateValidating), Message: mismatch.Error()})
		transition(StateFailed)
		result.Err = mismatch
		return result, mismatch
	}

	if err := j.Transition(job.StatusSucceeded); err != nil {
		transition(StateFailed)
		result.Err = err
		return result, err
	}
	transition(StateDone)
	log.Info("run complete", "duration", result.Duration, "written", j.Progress().Written())
	return result, nil
}

// rollback restores the prior serving revision. Rollback happens on a fresh
// context: the run context may already be cancelled.
func (o *Orchestrator) rollback(_ context.Context, rev *domaindeploy.Revision) bool {
	if rev == nil || rev.PriorRevision == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := o.deployer.Rollback(ctx, o.deployReq.ServiceName, rev.PriorRevision); err != nil {
		logger.Error("rollback failed", "service", o.deployReq.ServiceName,
			"revision", rev.PriorRevision, "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) persist(j *job.Job) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(j); err != nil {
		logger.Warn("failed to persist job", "job_id", j.ID, "error", err)
	}
}

// failureFor extracts batch context from migration write errors without
// importing the infrastructure package.
func failureFor(state State, err error) job.FailureContext {
	fctx := job.FailureContext{Stage: string(state), Message: err.Error()}
	var be interface{ BatchContext() (string, int) }
	if errors.As(err, &be) {
		_, fctx.BatchIndex = be.BatchContext()
	}
	return fctx
}

// Validate checks the orchestrator is fully assembled before Execute.
func (o *Orchestrator) Validate() error {
	if o.provisioner == nil {
		return fmt.Errorf("provisioner is required")
	}
	if o.deployer == nil {
		return fmt.Errorf("deployer is required")
	}
	if o.migrator == nil {
		return fmt.Errorf("migrator is required")
	}
	if o.validator == nil {
		return fmt.Errorf("validator is required")
	}
	if o.target == nil {
		return fmt.Errorf("target is required")
	}
	return nil
}
