package deploy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/changeset"
	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/monitor"
	"github.com/openfroyo/froyostack/pkg/params"
	"github.com/openfroyo/froyostack/pkg/storage"
	"github.com/openfroyo/froyostack/pkg/telemetry"
	"github.com/openfroyo/froyostack/pkg/template"
)

// Deploy composes, validates, packages and converges env, then syncs the
// static site to the stack's site bucket.
func (d *Deployer) Deploy(ctx context.Context, env string) (*Report, error) {
	dc, err := d.project.DeploymentContext(env)
	if err != nil {
		return nil, err
	}

	return d.run(ctx, dc, "deploy", func(ctx context.Context, report *Report) error {
		tmpl, result, err := d.Validate(ctx, dc, "deploy")
		if result != nil {
			report.Warnings = result.Warnings
		}
		if err != nil {
			return err
		}

		if len(d.project.Functions) > 0 {
			report.Artifacts, err = d.Package(ctx)
			if err != nil {
				return err
			}
			report.Uploaded, err = d.PublishArtifacts(ctx, dc, tmpl, report.Artifacts)
			if err != nil {
				return err
			}
		}

		body, err := tmpl.Body()
		if err != nil {
			return err
		}

		if err := d.converge(ctx, dc, tmpl, report, changeset.Request{TemplateBody: body}); err != nil {
			return err
		}

		if err := d.collectOutputs(ctx, dc.StackName, report); err != nil {
			return err
		}

		if d.project.Site != nil {
			report.Site, err = d.syncSite(ctx, report.Outputs[template.SiteBucketOutput])
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateParameters re-submits the stored template of an existing stack with new
// parameter values. Parameters the live stack already carries are asked again,
// offering to keep the previous value.
func (d *Deployer) UpdateParameters(ctx context.Context, env string) (*Report, error) {
	dc, err := d.project.DeploymentContext(env)
	if err != nil {
		return nil, err
	}
	dc.AllowRePrompt = true

	return d.run(ctx, dc, "update", func(ctx context.Context, report *Report) error {
		var tmpl template.Template
		err := d.phase(ctx, "compose", func(ctx context.Context) error {
			body, err := d.infra.GetTemplate(ctx, dc.StackName)
			if err != nil {
				if errors.Is(err, engine.ErrStackNotFound) {
					return engine.NewPermanentError(
						fmt.Sprintf("stack %s does not exist, deploy it first", dc.StackName), err,
					).WithCode(engine.ErrCodeNotFound)
				}
				return err
			}
			tmpl, err = template.Parse([]byte(body))
			return err
		})
		if err != nil {
			return err
		}

		if err := d.converge(ctx, dc, tmpl, report, changeset.Request{UsePreviousTemplate: true}); err != nil {
			return err
		}
		return d.collectOutputs(ctx, dc.StackName, report)
	})
}

// converge resolves the parameters of tmpl against the live stack and drives
// the changeset protocol to completion.
func (d *Deployer) converge(ctx context.Context, dc *engine.DeploymentContext, tmpl template.Template, report *Report, req changeset.Request) error {
	return d.phase(ctx, "converge", func(ctx context.Context) error {
		orch := d.orchestrator(dc)

		identity, err := orch.StackExists(ctx, dc.StackName)
		if err != nil {
			return err
		}
		if req.UsePreviousTemplate && !identity.Exists {
			return engine.NewPermanentError(
				fmt.Sprintf("stack %s does not exist, deploy it first", dc.StackName), engine.ErrStackNotFound,
			).WithCode(engine.ErrCodeNotFound)
		}

		var live []string
		if identity.Exists {
			desc, err := d.infra.DescribeStack(ctx, dc.StackName)
			if err != nil {
				return err
			}
			live = slices.Sorted(maps.Keys(desc.Parameters))
		}

		values, err := d.resolveParameters(ctx, dc, tmpl, live)
		if err != nil {
			return err
		}

		req.StackName = dc.StackName
		req.Parameters = values
		req.Tags = dc.Tags
		req.UseChangeset = dc.UseChangeset

		result, err := orch.Converge(ctx, identity, req)
		if err != nil {
			return err
		}
		d.tel.Metrics.RecordChangeset(string(result.Operation), string(result.Outcome))
		telemetry.SetChangeset(ctx, result.ChangeSet)

		report.Operation = result.Operation
		report.Outcome = result.Outcome
		report.ChangeSet = result.ChangeSet
		return nil
	})
}

func (d *Deployer) resolveParameters(ctx context.Context, dc *engine.DeploymentContext, tmpl template.Template, live []string) ([]engine.ParameterValue, error) {
	plan, err := params.NewPlan(tmpl, dc.KnownParameters, live, params.Options{
		AllowRePrompt: dc.AllowRePrompt,
		NoPrompt:      dc.NoPrompt,
	})
	if err != nil {
		return nil, err
	}

	answers := map[string]string{}
	if len(plan.Prompts) > 0 {
		answers, err = d.prompter.Prompt(ctx, plan.Prompts)
		if err != nil {
			return nil, err
		}
	}

	values, err := plan.Resolve(answers)
	if err != nil {
		return nil, err
	}
	return params.ToProvider(values), nil
}

func (d *Deployer) collectOutputs(ctx context.Context, stackName string, report *Report) error {
	desc, err := d.infra.DescribeStack(ctx, stackName)
	if err != nil {
		return fmt.Errorf("describe stack outputs: %w", err)
	}
	report.Outputs = desc.Outputs
	return nil
}

// DestroyOptions tune Destroy.
type DestroyOptions struct {
	// PurgeArtifacts also deletes the function bundles from the deployment bucket.
	PurgeArtifacts bool
}

// Destroy asks for confirmation, empties the stack's site bucket and deletes the stack.
func (d *Deployer) Destroy(ctx context.Context, env string, opts DestroyOptions) (*Report, error) {
	dc, err := d.project.DeploymentContext(env)
	if err != nil {
		return nil, err
	}

	return d.run(ctx, dc, "destroy", func(ctx context.Context, report *Report) error {
		report.Operation = engine.OperationDelete
		orch := d.orchestrator(dc)

		identity, err := orch.StackExists(ctx, dc.StackName)
		if err != nil {
			return err
		}
		if !identity.Exists {
			d.logger.Info().Str("stack", dc.StackName).Msg("Stack does not exist")
			report.Outcome = changeset.OutcomeNoChanges
			return nil
		}

		ok, err := d.confirmer.Confirm(ctx, fmt.Sprintf("Delete stack %s and all of its resources?", dc.StackName))
		if err != nil {
			return err
		}
		if !ok {
			return ErrCancelled
		}

		err = d.phase(ctx, "sync", func(ctx context.Context) error {
			desc, err := d.infra.DescribeStack(ctx, dc.StackName)
			if err != nil {
				return err
			}
			if bucket := desc.Outputs[template.SiteBucketOutput]; bucket != "" {
				if _, err := d.syncer.Empty(ctx, bucket, ""); err != nil {
					return err
				}
			}
			if opts.PurgeArtifacts {
				if _, err := d.syncer.Empty(ctx, dc.Bucket, artifact.KeyPrefix); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		err = d.phase(ctx, "converge", func(ctx context.Context) error {
			return orch.Destroy(ctx, dc.StackName)
		})
		if err != nil {
			return err
		}
		report.Outcome = OutcomeDeleted
		return nil
	})
}

// SyncSite uploads the static site to the bucket of an already deployed stack.
func (d *Deployer) SyncSite(ctx context.Context, env string) (*storage.Result, error) {
	if d.project.Site == nil {
		return nil, fmt.Errorf("project %s has no site", d.project.Name)
	}
	stackName, err := d.project.StackName(env)
	if err != nil {
		return nil, err
	}
	desc, err := d.infra.DescribeStack(ctx, stackName)
	if err != nil {
		return nil, err
	}
	return d.syncSite(ctx, desc.Outputs[template.SiteBucketOutput])
}

func (d *Deployer) syncSite(ctx context.Context, bucket string) (*storage.Result, error) {
	if bucket == "" {
		return nil, fmt.Errorf("stack has no %s output", template.SiteBucketOutput)
	}

	var result *storage.Result
	err := d.phase(ctx, "sync", func(ctx context.Context) error {
		var err error
		result, err = d.syncer.SyncSite(ctx, d.project.Path(d.project.Site.Dir), bucket, d.project.SiteRules(), storage.Options{
			Prefix: d.project.Site.Prefix,
		})
		if err != nil {
			return err
		}
		d.tel.Metrics.RecordUploads(telemetry.UploadKindAsset, result.Uploaded, result.Skipped, result.Bytes)
		return nil
	})
	return result, err
}

// WatchSite re-syncs the static site whenever a file under the site directory changes.
func (d *Deployer) WatchSite(ctx context.Context, env string, debounce time.Duration) error {
	if d.project.Site == nil {
		return fmt.Errorf("project %s has no site", d.project.Name)
	}
	return storage.Watch(ctx, d.project.Path(d.project.Site.Dir), debounce, d.logger, func(ctx context.Context) error {
		_, err := d.SyncSite(ctx, env)
		return err
	})
}

// Events attaches a monitor to a stack that is already converging and blocks
// until the operation reaches a terminal status.
func (d *Deployer) Events(ctx context.Context, env string) error {
	stackName, err := d.project.StackName(env)
	if err != nil {
		return err
	}
	desc, err := d.infra.DescribeStack(ctx, stackName)
	if err != nil {
		return err
	}
	if !desc.Status.IsInProgress() {
		d.logger.Info().Str("stack", stackName).Str("status", string(desc.Status)).Msg("Stack is not converging")
		return nil
	}

	opts := append(slices.Clone(d.monitorOpts), monitor.WithAttach())
	watcher := monitor.New(d.infra, d.sinks(""), d.logger, opts...)
	return watcher.Watch(ctx, stackName, operationFor(desc.Status))
}

// operationFor infers the running operation from an in-progress stack status.
func operationFor(status engine.StackStatus) engine.Operation {
	s := string(status)
	switch {
	case strings.HasPrefix(s, "DELETE"):
		return engine.OperationDelete
	case strings.HasPrefix(s, "CREATE"), strings.HasPrefix(s, "ROLLBACK"), strings.HasPrefix(s, "REVIEW"):
		return engine.OperationCreate
	default:
		return engine.OperationUpdate
	}
}
