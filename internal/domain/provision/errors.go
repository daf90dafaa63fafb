package provision

import "fmt"

// Error represents a provisioning failure. Provisioning errors are fatal:
// the orchestrator surfaces them immediately without rollback, since nothing
// has been deployed yet.
type Error struct {
	// Kind and ResourceID identify the resource that failed.
	Kind       Kind
	ResourceID string
	// QuotaExceeded is true when the provider rejected the request for
	// quota reasons.
	QuotaExceeded bool
	// Conflict is true when a resource with the same ID exists with a
	// different shape than the spec requires.
	Conflict bool
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("provision %s %q: %s", e.Kind, e.ResourceID, e.Message)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewQuotaError creates an error for quota exhaustion.
func NewQuotaError(kind Kind, id string, err error) error {
	return &Error{Kind: kind, ResourceID: id, QuotaExceeded: true, Message: "quota exceeded", Err: err}
}

// NewConflictError creates an error for a spec conflicting with an existing
// resource of a different shape.
func NewConflictError(kind Kind, id, detail string) error {
	return &Error{Kind: kind, ResourceID: id, Conflict: true, Message: "conflicts with existing resource: " + detail}
}

// NewError creates a generic provisioning error.
func NewError(kind Kind, id, msg string, err error) error {
	return &Error{Kind: kind, ResourceID: id, Message: msg, Err: err}
}
