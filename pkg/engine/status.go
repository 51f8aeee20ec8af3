package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChangesetStatus is the provider-neutral state of a submitted changeset.
type ChangesetStatus string

const (
	// ChangesetPending indicates the provider has accepted the changeset but not started computing it.
	ChangesetPending ChangesetStatus = "PENDING"

	// ChangesetInProgress indicates the provider is computing the diff.
	ChangesetInProgress ChangesetStatus = "IN_PROGRESS"

	// ChangesetReadyToExecute indicates the diff is computed and can be executed.
	ChangesetReadyToExecute ChangesetStatus = "READY_TO_EXECUTE"

	// ChangesetFailed indicates the changeset could not be created. An empty
	// diff is reported this way by the provider.
	ChangesetFailed ChangesetStatus = "FAILED"

	// ChangesetExecuting indicates an execute call is being applied.
	ChangesetExecuting ChangesetStatus = "EXECUTE_IN_PROGRESS"

	// ChangesetComplete indicates the changeset has been executed.
	ChangesetComplete ChangesetStatus = "COMPLETE"
)

// IsWaiting returns true while the orchestrator should keep polling.
func (s ChangesetStatus) IsWaiting() bool {
	return s == ChangesetPending || s == ChangesetInProgress || s == ChangesetExecuting
}

// Validate checks if the changeset status is one of the known states.
func (s ChangesetStatus) Validate() error {
	switch s {
	case ChangesetPending, ChangesetInProgress, ChangesetReadyToExecute,
		ChangesetFailed, ChangesetExecuting, ChangesetComplete:
		return nil
	default:
		return fmt.Errorf("invalid changeset status: %s", s)
	}
}

// ChangesetType selects whether a changeset creates a new stack or updates an existing one.
type ChangesetType string

const (
	ChangesetTypeCreate ChangesetType = "CREATE"
	ChangesetTypeUpdate ChangesetType = "UPDATE"
)

// Operation is the stack-level operation a deploy invocation performs.
type Operation string

const (
	// OperationCreate creates a stack that does not exist yet.
	OperationCreate Operation = "create"

	// OperationUpdate converges an existing stack to a new template or parameter set.
	OperationUpdate Operation = "update"

	// OperationDelete removes the stack and its resources.
	OperationDelete Operation = "delete"
)

// SuccessStatus returns the stack-level status that ends o successfully.
func (o Operation) SuccessStatus() StackStatus {
	switch o {
	case OperationCreate:
		return StackCreateComplete
	case OperationDelete:
		return StackDeleteComplete
	default:
		return StackUpdateComplete
	}
}

// StartedBy reports whether a stack-level status s opens an operation of kind o.
// A stack created through a changeset opens with REVIEW_IN_PROGRESS.
func (o Operation) StartedBy(s StackStatus) bool {
	switch o {
	case OperationCreate:
		return s == StackCreateInProgress || s == StackReviewInProgress
	case OperationDelete:
		return s == StackDeleteInProgress
	default:
		return s == StackUpdateInProgress
	}
}

// StackStatus is the provider's status string for a stack or one of its resources.
type StackStatus string

// Provider status strings used by the orchestrator and the monitor.
const (
	StackCreateInProgress         StackStatus = "CREATE_IN_PROGRESS"
	StackCreateComplete           StackStatus = "CREATE_COMPLETE"
	StackUpdateInProgress         StackStatus = "UPDATE_IN_PROGRESS"
	StackUpdateComplete           StackStatus = "UPDATE_COMPLETE"
	StackUpdateRollbackInProgress StackStatus = "UPDATE_ROLLBACK_IN_PROGRESS"
	StackUpdateRollbackComplete   StackStatus = "UPDATE_ROLLBACK_COMPLETE"
	StackRollbackComplete         StackStatus = "ROLLBACK_COMPLETE"
	StackDeleteInProgress         StackStatus = "DELETE_IN_PROGRESS"
	StackDeleteComplete           StackStatus = "DELETE_COMPLETE"
	StackDeleteFailed             StackStatus = "DELETE_FAILED"
	StackReviewInProgress         StackStatus = "REVIEW_IN_PROGRESS"
)

// IsSuccess returns true for the statuses that end an operation successfully.
func (s StackStatus) IsSuccess() bool {
	return s == StackCreateComplete || s == StackUpdateComplete || s == StackDeleteComplete
}

// IsFailure returns true for any status that records a failed step.
func (s StackStatus) IsFailure() bool {
	return strings.HasSuffix(string(s), "FAILED") || s == StackUpdateRollbackInProgress
}

// IsFailedTerminal returns true for stack statuses that end an operation in failure.
func (s StackStatus) IsFailedTerminal() bool {
	return strings.HasSuffix(string(s), "ROLLBACK_COMPLETE") || s == StackDeleteFailed
}

// IsOperationStart returns true for the stack-level statuses that open a new operation.
func (s StackStatus) IsOperationStart() bool {
	switch s {
	case StackCreateInProgress, StackUpdateInProgress, StackDeleteInProgress, StackReviewInProgress:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for stack statuses that end an operation.
func (s StackStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailedTerminal()
}

// IsInProgress returns true for any transitional status.
func (s StackStatus) IsInProgress() bool {
	return strings.HasSuffix(string(s), "_IN_PROGRESS")
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ChangesetStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ChangesetStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ChangesetStatus(str)
	return s.Validate()
}
