package engine

import "fmt"

// UnauthorizedRoleError is returned when an actor's capability set does not
// cover the requested operation.
type UnauthorizedRoleError struct {
	Role string
	Rule string
}

func (e UnauthorizedRoleError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("unauthorized: %s", e.Rule)
	}
	return fmt.Sprintf("role %s unauthorized: %s", e.Role, e.Rule)
}

// IllegalTransitionError is returned for status moves absent from the
// transition table.
type IllegalTransitionError struct {
	Track string
	From  string
	To    string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Track, e.From, e.To)
}

// JustificationRequiredError is returned when the acting tier mandates
// recorded reasoning and none was supplied.
type JustificationRequiredError struct {
	Role string
}

func (e JustificationRequiredError) Error() string {
	return fmt.Sprintf("role %s must supply justification", e.Role)
}

// StaleStateError is returned when the item changed under the caller, either
// the final status left pending before a first-line decision landed or a
// concurrent writer advanced the version.
type StaleStateError struct {
	WorkItemID string
	Rule       string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("work item %s: stale state: %s", e.WorkItemID, e.Rule)
}

// ValidationError is returned for malformed requests rejected before any
// policy check runs.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return e.Reason
}

// StorageUnavailableError wraps storage faults the caller may retry.
type StorageUnavailableError struct {
	Err error
}

func (e StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Err)
}

func (e StorageUnavailableError) Unwrap() error {
	return e.Err
}
