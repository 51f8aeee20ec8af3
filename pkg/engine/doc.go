// Package engine defines the shared model of the froyostack deployment orchestrator.
//
// The orchestrator converges one provider stack per invocation. A deploy composes a
// template from fragments, plans its parameters, packages and uploads function
// artifacts, submits a changeset and watches provisioning events until the stack
// reaches a terminal status. This package holds the value types those components
// exchange and the collaborator interfaces they consume; it has no provider code.
//
// # Deployment Context
//
// DeploymentContext is built once by the configuration layer and passed explicitly
// to every component. Nothing in the core reads files or environment variables.
//
// # Collaborators
//
//   - InfraClient: stacks, changesets and stack events
//   - ObjectStore: buckets and objects
//   - Prompter and Confirmer: operator input
//   - EventSink: receives monitored stack events in chronological order
//
// Implementations must return an error wrapping ErrStackNotFound when a stack
// record does not exist.
//
// # Status Tracking
//
//   - ChangesetStatus: PENDING, IN_PROGRESS, READY_TO_EXECUTE, FAILED,
//     EXECUTE_IN_PROGRESS and COMPLETE
//   - StackStatus: provider stack and resource statuses, with helpers that
//     classify success, failure and in-progress values
//   - Operation: create, update or delete
//
// # Error Handling
//
// Composition and convergence failures are concrete types usable with errors.As:
//
//	var pf *engine.ProvisioningFailure
//	if errors.As(err, &pf) {
//	    fmt.Println(pf.ResourceID, pf.Reason)
//	}
//
// Infrastructure faults are wrapped in EngineError and classified as transient,
// throttled, conflict or permanent. Classify maps any error to a class and code
// for metrics and the deployment journal.
package engine
