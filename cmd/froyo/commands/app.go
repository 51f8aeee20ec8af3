package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/openfroyo/froyostack/pkg/awscloud"
	"github.com/openfroyo/froyostack/pkg/config"
	"github.com/openfroyo/froyostack/pkg/deploy"
	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/params"
	"github.com/openfroyo/froyostack/pkg/policy"
	"github.com/openfroyo/froyostack/pkg/stores"
	"github.com/openfroyo/froyostack/pkg/telemetry"
)

// app holds everything one command invocation needs. It is built from the
// global flags and torn down by close.
type app struct {
	project  *config.Project
	env      string
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	journal  *stores.SQLiteStore
	policies *policy.Engine
	deployer *deploy.Deployer
}

// newApp loads the project and wires telemetry, the journal, the policy engine
// and the AWS adapters into a Deployer.
func newApp(ctx context.Context) (*app, error) {
	tel, err := telemetry.NewTelemetry(telemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a := &app{tel: tel, logger: tel.Logger.Zerolog()}

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	if err := a.tel.Metrics.StartMetricsServer(ctx, a.logger); err != nil {
		return err
	}

	project, err := config.Load(projectPath)
	if err != nil {
		return err
	}
	a.project = project

	a.env, err = resolveEnvironment(project, envName)
	if err != nil {
		return err
	}

	if err := a.openJournal(ctx); err != nil {
		return err
	}

	a.policies, err = policy.NewEngine(a.logger)
	if err != nil {
		return err
	}
	if paths := project.PolicyPaths(); len(paths) > 0 {
		if err := a.policies.LoadPolicies(ctx, paths); err != nil {
			return err
		}
	}

	awsCfg, err := awscloud.LoadConfig(ctx, a.region(), a.profile())
	if err != nil {
		return err
	}
	infra, store := awscloud.NewClients(awsCfg)

	prompter, confirmer := newPrompters()
	opts := []deploy.Option{
		deploy.WithPrompter(prompter),
		deploy.WithConfirmer(confirmer),
		deploy.WithJournal(a.journal),
		deploy.WithPolicies(a.policies),
		deploy.WithTelemetry(a.tel),
		deploy.WithOutput(os.Stdout),
	}
	if approve {
		opts = append(opts, deploy.WithChangesetApproval())
	}

	a.deployer, err = deploy.New(project, infra, store, a.logger, opts...)
	return err
}

func (a *app) openJournal(ctx context.Context) error {
	path := a.project.Path(a.project.Journal)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	journal, err := stores.Open(ctx, path)
	if err != nil {
		return err
	}
	a.journal = journal
	return nil
}

func (a *app) region() string {
	if e, ok := a.project.Environments[a.env]; ok && e.Region != "" {
		return e.Region
	}
	return a.project.Region
}

func (a *app) profile() string {
	if profile != "" {
		return profile
	}
	return a.project.Profile
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close journal")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

func telemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if envName != "" {
		cfg.Environment = envName
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	cfg.Metrics.ListenAddress = metricsAddr

	if exporter := strings.ToLower(traceExporter); exporter != "" && exporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
		cfg.Tracing.Endpoint = traceEndpoint
	}
	return cfg
}

// resolveEnvironment picks the environment named by the flag, or the only one
// the project declares.
func resolveEnvironment(project *config.Project, name string) (string, error) {
	names := project.EnvironmentNames()
	if name == "" {
		if len(names) == 1 {
			return names[0], nil
		}
		return "", fmt.Errorf("--env is required, project %s declares %s", project.Name, strings.Join(names, ", "))
	}
	if _, ok := project.Environments[name]; !ok {
		return "", fmt.Errorf("unknown environment %q (available: %s)", name, strings.Join(names, ", "))
	}
	return name, nil
}

// newPrompters asks on the terminal when stdin is one and prompting is allowed.
// --yes only answers confirmations; parameter values are still asked for.
func newPrompters() (engine.Prompter, engine.Confirmer) {
	fallback := params.NonInteractive{AssumeYes: assumeYes}
	if noPrompt || !term.IsTerminal(int(os.Stdin.Fd())) {
		return fallback, fallback
	}
	tp := params.NewTerminalPrompter(os.Stdin, os.Stderr)
	if assumeYes {
		return tp, fallback
	}
	return tp, tp
}

// withApp builds an app, runs fn and tears the app down.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(a.tel.WithContext(ctx), a)
}
