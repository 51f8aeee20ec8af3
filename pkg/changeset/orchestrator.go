package changeset

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// DefaultPollInterval is the time between changeset status polls.
const DefaultPollInterval = 3 * time.Second

// emptyDiff matches the provider reasons given for a changeset that has nothing to apply.
var emptyDiff = regexp.MustCompile(`(?i)didn't contain changes|no updates are to be performed`)

// ErrExecutionDeclined is returned when the approval hook rejects a ready changeset.
var ErrExecutionDeclined = errors.New("changeset execution declined")

// Watcher waits for a stack operation to converge.
type Watcher interface {
	Watch(ctx context.Context, stackName string, op engine.Operation) error
}

// ApprovalFunc decides whether a ready changeset is executed.
type ApprovalFunc func(ctx context.Context, cs *engine.ChangesetDescription) (bool, error)

// Outcome describes how a convergence ended.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeNoChanges Outcome = "no-changes"
)

// Request is the desired state submitted to the provider.
type Request struct {
	StackName           string
	TemplateBody        string
	UsePreviousTemplate bool
	Parameters          []engine.ParameterValue
	Tags                map[string]string

	// UseChangeset submits creates as a CREATE changeset instead of a direct create.
	UseChangeset bool
}

// Result reports what Converge did.
type Result struct {
	StackName string
	StackID   string
	Operation engine.Operation
	ChangeSet string
	Outcome   Outcome
}

// Orchestrator drives one stack through create or update to convergence.
type Orchestrator struct {
	client      engine.InfraClient
	watcher     Watcher
	interval    time.Duration
	maxAttempts int
	approve     ApprovalFunc
	newName     func(stackName string) string
	logger      zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval sets the changeset poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithMaxAttempts bounds changeset polling. Zero polls until a terminal status.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		o.maxAttempts = n
	}
}

// WithApproval installs a hook consulted before a ready changeset is executed.
func WithApproval(fn ApprovalFunc) Option {
	return func(o *Orchestrator) {
		o.approve = fn
	}
}

// WithNameGenerator replaces the changeset name generator.
func WithNameGenerator(fn func(stackName string) string) Option {
	return func(o *Orchestrator) {
		o.newName = fn
	}
}

// New creates an orchestrator. The watcher receives every long-running wait.
func New(client engine.InfraClient, watcher Watcher, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		watcher:  watcher,
		interval: DefaultPollInterval,
		newName: func(stackName string) string {
			return fmt.Sprintf("%s-%s", stackName, uuid.NewString())
		},
		logger: logger.With().Str("component", "changeset").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StackExists reports whether the provider tracks a live stack with the given
// name. Stacks in DELETE_COMPLETE do not count.
func (o *Orchestrator) StackExists(ctx context.Context, stackName string) (engine.StackIdentity, error) {
	stacks, err := o.client.ListStacks(ctx)
	if err != nil {
		return engine.StackIdentity{}, fmt.Errorf("list stacks: %w", err)
	}
	id := engine.StackIdentity{StackName: stackName}
	for _, s := range stacks {
		if s.StackName == stackName && s.Status != engine.StackDeleteComplete {
			id.Exists = true
			break
		}
	}
	return id, nil
}

// Converge creates the stack when it does not exist and otherwise submits an
// UPDATE changeset. A changeset whose diff is empty ends with OutcomeNoChanges.
func (o *Orchestrator) Converge(ctx context.Context, identity engine.StackIdentity, req Request) (*Result, error) {
	if req.StackName == "" {
		req.StackName = identity.StackName
	}
	logger := o.logger.With().Str("stack", req.StackName).Logger()

	stackReq := engine.StackRequest{
		StackName:           req.StackName,
		TemplateBody:        req.TemplateBody,
		UsePreviousTemplate: req.UsePreviousTemplate && identity.Exists,
		Parameters:          req.Parameters,
		Tags:                req.Tags,
	}
	if stackReq.UsePreviousTemplate {
		stackReq.TemplateBody = ""
	}

	if !identity.Exists && !req.UseChangeset {
		logger.Info().Msg("Creating stack")
		stackID, err := o.client.CreateStack(ctx, stackReq)
		if err != nil {
			return nil, fmt.Errorf("create stack %s: %w", req.StackName, err)
		}
		if err := o.watcher.Watch(ctx, req.StackName, engine.OperationCreate); err != nil {
			return nil, err
		}
		return &Result{StackName: req.StackName, StackID: stackID, Operation: engine.OperationCreate, Outcome: OutcomeCreated}, nil
	}

	csType, op, outcome := engine.ChangesetTypeUpdate, engine.OperationUpdate, OutcomeUpdated
	if !identity.Exists {
		csType, op, outcome = engine.ChangesetTypeCreate, engine.OperationCreate, OutcomeCreated
	}

	name := o.newName(req.StackName)
	logger = logger.With().Str("changeset", name).Logger()
	logger.Info().Str("type", string(csType)).Bool("previous_template", stackReq.UsePreviousTemplate).Msg("Creating changeset")

	stackID, err := o.client.CreateChangeset(ctx, engine.ChangesetRequest{
		StackRequest:  stackReq,
		ChangeSetName: name,
		Type:          csType,
	})
	if err != nil {
		return nil, fmt.Errorf("create changeset %s: %w", name, err)
	}
	result := &Result{StackName: req.StackName, StackID: stackID, Operation: op, ChangeSet: name}

	desc, shouldExecute, err := o.WaitForChangeset(ctx, req.StackName, name)
	if err != nil {
		return nil, err
	}
	if !shouldExecute {
		logger.Info().Str("reason", desc.Reason).Msg("Changeset contains no changes")
		result.Outcome = OutcomeNoChanges
		return result, nil
	}

	if o.approve != nil {
		ok, err := o.approve(ctx, desc)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Info().Msg("Changeset execution declined")
			return nil, ErrExecutionDeclined
		}
	}

	logger.Info().Msg("Executing changeset")
	if err := o.client.ExecuteChangeset(ctx, req.StackName, name); err != nil {
		return nil, fmt.Errorf("execute changeset %s: %w", name, err)
	}
	if err := o.watcher.Watch(ctx, req.StackName, op); err != nil {
		return nil, err
	}
	result.Outcome = outcome
	return result, nil
}

// WaitForChangeset polls the changeset until it is ready or failed. It reports
// true when the changeset should be executed. FAILED is a no-op only when the
// reason says the diff is empty; any other failure is a ProvisioningFailure.
func (o *Orchestrator) WaitForChangeset(ctx context.Context, stackName, changeSet string) (*engine.ChangesetDescription, bool, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-timer.C:
		}

		desc, err := o.client.DescribeChangeset(ctx, stackName, changeSet)
		if err != nil {
			return nil, false, fmt.Errorf("describe changeset %s: %w", changeSet, err)
		}
		o.logger.Debug().Str("changeset", changeSet).Str("status", string(desc.Status)).Msg("Changeset status")

		switch {
		case desc.Status.IsWaiting():
		case desc.Status == engine.ChangesetReadyToExecute:
			return desc, true, nil
		case desc.Status == engine.ChangesetFailed:
			if emptyDiff.MatchString(desc.Reason) {
				return desc, false, nil
			}
			return nil, false, &engine.ProvisioningFailure{
				StackName:  stackName,
				ResourceID: changeSet,
				Status:     string(desc.Status),
				Reason:     desc.Reason,
			}
		default:
			return nil, false, &engine.InvalidChangesetStateError{
				ChangeSet: changeSet,
				Status:    desc.Status,
				Reason:    desc.Reason,
			}
		}

		if o.maxAttempts > 0 && attempt >= o.maxAttempts {
			return nil, false, engine.NewTransientError(
				fmt.Sprintf("changeset %s still %s after %d polls", changeSet, desc.Status, attempt), nil).
				WithResource(changeSet).WithOperation("describe-changeset")
		}
		timer.Reset(o.interval)
	}
}

// Destroy deletes the stack and waits for the delete to finish. A stack that
// does not exist is not an error.
func (o *Orchestrator) Destroy(ctx context.Context, stackName string) error {
	logger := o.logger.With().Str("stack", stackName).Logger()

	if err := o.client.DeleteStack(ctx, stackName); err != nil {
		if errors.Is(err, engine.ErrStackNotFound) {
			logger.Info().Msg("Stack already deleted")
			return nil
		}
		return fmt.Errorf("delete stack %s: %w", stackName, err)
	}
	logger.Info().Msg("Deleting stack")
	return o.watcher.Watch(ctx, stackName, engine.OperationDelete)
}
