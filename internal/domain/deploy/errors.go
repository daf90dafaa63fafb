package deploy

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when a deployed revision does not become healthy
// within the configured window. It triggers rollback in the orchestrator.
type TimeoutError struct {
	ServiceName string
	Revision    string
	Waited      time.Duration
	LastStatus  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deploy of %s (revision %s) not healthy after %s: %s",
		e.ServiceName, e.Revision, e.Waited, e.LastStatus)
}

// RejectedError is returned when the platform refuses the deploy or update
// request outright. It triggers rollback in the orchestrator.
type RejectedError struct {
	ServiceName string
	Reason      string
	Err         error
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("deploy of %s rejected: %s", e.ServiceName, e.Reason)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// IsRollbackable reports whether an error should trigger restoring the
// prior serving revision.
func IsRollbackable(err error) bool {
	var te *TimeoutError
	var re *RejectedError
	return errors.As(err, &te) || errors.As(err, &re)
}
