package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/changeset"
	"github.com/openfroyo/froyostack/pkg/config"
	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/monitor"
	"github.com/openfroyo/froyostack/pkg/params"
	"github.com/openfroyo/froyostack/pkg/policy"
	"github.com/openfroyo/froyostack/pkg/storage"
	"github.com/openfroyo/froyostack/pkg/stores"
	"github.com/openfroyo/froyostack/pkg/telemetry"
	"github.com/openfroyo/froyostack/pkg/template"
)

// ErrCancelled is returned when the operator declines a confirmation.
var ErrCancelled = engine.NewPermanentError("operation cancelled by operator",
	errors.New("confirmation declined")).WithCode(engine.ErrCodeCancelled)

// OutcomeDeleted is the outcome of a completed destroy.
const OutcomeDeleted changeset.Outcome = "deleted"

// Report summarizes one deploy, update or destroy invocation.
type Report struct {
	DeploymentID string
	StackName    string
	Operation    engine.Operation
	Outcome      changeset.Outcome
	ChangeSet    string
	Outputs      map[string]string

	// Artifacts are the packaged function bundles; Uploaded counts the ones
	// that were not already present in the bucket.
	Artifacts []*artifact.Descriptor
	Uploaded  int

	// Site is nil when the project has no static site.
	Site *storage.Result

	// Warnings are non-blocking policy findings.
	Warnings []policy.Violation
}

// Deployer runs the end-to-end deploy, update and destroy flows for one project.
// Every invocation builds fresh composer, resolver, orchestrator and monitor state.
type Deployer struct {
	project   *config.Project
	infra     engine.InfraClient
	store     engine.ObjectStore
	prompter  engine.Prompter
	confirmer engine.Confirmer
	journal   stores.Journal
	policies  *policy.Engine
	schema    *template.Validator
	tel       *telemetry.Telemetry
	out       io.Writer

	packager *artifact.Packager
	syncer   *storage.Syncer

	approveChangesets bool
	packagerOpts      []artifact.Option
	monitorOpts       []monitor.Option
	changesetOpts     []changeset.Option

	logger zerolog.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithPrompter sets the collaborator asked for parameter values.
func WithPrompter(p engine.Prompter) Option {
	return func(d *Deployer) { d.prompter = p }
}

// WithConfirmer sets the collaborator asked yes/no questions.
func WithConfirmer(c engine.Confirmer) Option {
	return func(d *Deployer) { d.confirmer = c }
}

// WithJournal records every invocation and the stack events it observes.
func WithJournal(j stores.Journal) Option {
	return func(d *Deployer) { d.journal = j }
}

// WithPolicies evaluates composed templates before submission.
func WithPolicies(e *policy.Engine) Option {
	return func(d *Deployer) { d.policies = e }
}

// WithTelemetry sets the metrics, tracing and event sinks.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Deployer) { d.tel = t }
}

// WithOutput sets where the stack event log is printed.
func WithOutput(w io.Writer) Option {
	return func(d *Deployer) { d.out = w }
}

// WithChangesetApproval asks the confirmer before executing a ready changeset.
func WithChangesetApproval() Option {
	return func(d *Deployer) { d.approveChangesets = true }
}

// WithPackagerOptions tunes function packaging.
func WithPackagerOptions(opts ...artifact.Option) Option {
	return func(d *Deployer) { d.packagerOpts = append(d.packagerOpts, opts...) }
}

// WithMonitorOptions tunes stack event polling.
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(d *Deployer) { d.monitorOpts = append(d.monitorOpts, opts...) }
}

// WithChangesetOptions tunes changeset polling.
func WithChangesetOptions(opts ...changeset.Option) Option {
	return func(d *Deployer) { d.changesetOpts = append(d.changesetOpts, opts...) }
}

// New creates a deployer for project.
func New(project *config.Project, infra engine.InfraClient, store engine.ObjectStore, logger zerolog.Logger, opts ...Option) (*Deployer, error) {
	schema, err := template.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile template schema: %w", err)
	}

	d := &Deployer{
		project:   project,
		infra:     infra,
		store:     store,
		prompter:  params.NonInteractive{},
		confirmer: params.NonInteractive{},
		schema:    schema,
		tel:       telemetry.Nop(),
		out:       io.Discard,
		logger:    logger.With().Str("component", "deployer").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.packager = artifact.NewPackager(project.Path(project.BuildDir), project.BuildOptions(), logger, d.packagerOpts...)
	d.syncer = storage.NewSyncer(store, 0, logger)
	return d, nil
}

// run journals and instruments one invocation around fn.
func (d *Deployer) run(ctx context.Context, dc *engine.DeploymentContext, command string, fn func(context.Context, *Report) error) (*Report, error) {
	start := time.Now()
	logger := d.logger.With().Str("deployment_id", dc.ID).Str("stack", dc.StackName).Str("command", command).Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := d.tel.Tracer.StartDeploymentSpan(ctx, dc.ID, dc.StackName, command)
	defer span.End()

	if d.journal != nil {
		err := d.journal.CreateDeployment(ctx, &stores.Deployment{
			ID:          dc.ID,
			StackName:   dc.StackName,
			Environment: dc.Environment,
			Operation:   command,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to journal deployment: %w", err)
		}
	}

	d.tel.Metrics.RecordDeploymentStarted()
	_ = d.tel.Events.PublishDeploymentStarted(dc.ID, dc.StackName, command)
	logger.Info().Str("environment", dc.Environment).Msg("Starting")

	report := &Report{DeploymentID: dc.ID, StackName: dc.StackName}
	err := fn(ctx, report)
	elapsed := time.Since(start)

	status := stores.DeploymentStatusSucceeded
	outcome := string(report.Outcome)
	switch {
	case isCancellation(err):
		status, outcome = stores.DeploymentStatusCancelled, "cancelled"
	case err != nil:
		status, outcome = stores.DeploymentStatusFailed, "failed"
	case outcome == "":
		outcome = "succeeded"
	}

	d.tel.Metrics.RecordDeploymentCompleted(command, outcome, elapsed)
	if err != nil {
		telemetry.RecordError(span, err)
		_ = d.tel.Events.PublishDeploymentFailed(dc.ID, dc.StackName, err)
		logger.Error().Err(err).Dur("duration", elapsed).Msg("Failed")
	} else {
		telemetry.RecordSuccess(span)
		_ = d.tel.Events.PublishDeploymentCompleted(dc.ID, dc.StackName, outcome, elapsed)
		logger.Info().Str("outcome", outcome).Dur("duration", elapsed).Msg("Completed")
	}

	if d.journal != nil {
		jerr := d.journal.CompleteDeployment(context.WithoutCancel(ctx), dc.ID, stores.Completion{
			Status:    status,
			Outcome:   outcome,
			ChangeSet: report.ChangeSet,
			Err:       err,
		})
		if jerr != nil {
			logger.Warn().Err(jerr).Msg("Failed to complete journal entry")
		}
	}

	if err != nil {
		return report, err
	}
	return report, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, changeset.ErrExecutionDeclined) ||
		errors.Is(err, context.Canceled)
}

// phase runs fn inside a telemetry phase span.
func (d *Deployer) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	p := d.tel.StartPhase(ctx, name)
	err := fn(p.Ctx)
	p.End(err)
	return err
}

// sinks builds the stack event fan-out. An empty deployment ID skips the journal.
func (d *Deployer) sinks(deploymentID string) engine.EventSink {
	sinks := monitor.MultiSink{
		monitor.NewConsoleSink(d.out),
		d.tel.Events,
		engine.EventSinkFunc(func(ctx context.Context, e engine.StackEvent) error {
			d.tel.Metrics.RecordStackEvent(string(e.Status))
			telemetry.AddStackEvent(ctx, e.ResourceID, string(e.Status), e.Reason)
			return nil
		}),
	}
	if d.journal != nil && deploymentID != "" {
		sinks = append(sinks, d.journal.EventSink(deploymentID))
	}
	return sinks
}

func (d *Deployer) orchestrator(dc *engine.DeploymentContext) *changeset.Orchestrator {
	watcher := monitor.New(d.infra, d.sinks(dc.ID), d.logger, d.monitorOpts...)

	opts := d.changesetOpts
	if d.approveChangesets {
		opts = append(opts[:len(opts):len(opts)], changeset.WithApproval(func(ctx context.Context, cs *engine.ChangesetDescription) (bool, error) {
			return d.confirmer.Confirm(ctx, fmt.Sprintf("Execute changeset %s on %s?", cs.Name, dc.StackName))
		}))
	}
	return changeset.New(d.infra, watcher, d.logger, opts...)
}
