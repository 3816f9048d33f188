package dispatch

import "fmt"

// The failure taxonomy surfaced to senders. Every type renders a specific
// corrective message; the pipeline converts them to outbound replies and the
// webhook never sees them as transport errors.

// ValidationError: a required slot is missing or carries an invalid value.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError: the referenced task or reminder does not exist or belongs
// to another organization. The offending reference is echoed back.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("I couldn't find %s. Please check the ID and try again.", e.Ref)
}

// PermissionError: the sender's role does not allow the action.
type PermissionError struct {
	Action string
	Roles  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("Sorry, only %s can %s.", e.Roles, e.Action)
}

// PersistenceError: a write did not verifiably apply; the re-read disagreed
// with the intended value.
type PersistenceError struct {
	Op string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("The %s may not have been saved correctly. Please try again.", e.Op)
}
