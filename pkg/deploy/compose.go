package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/policy"
	"github.com/openfroyo/froyostack/pkg/template"
)

// Compose merges the builtin fragments, one fragment per function and the
// user override fragments, in that order.
func (d *Deployer) Compose(ctx context.Context, dc *engine.DeploymentContext) (template.Template, error) {
	fragments := []template.Template{template.BaseFragment(d.project.EnvironmentNames())}

	if len(d.project.Functions) > 0 {
		fragments = append(fragments, template.APIFragment())
	}
	if d.project.Features.CDN {
		fragments = append(fragments, template.CDNFragment())
	}
	if d.project.Features.Auth {
		fragments = append(fragments, template.AuthFragment())
	}

	functions, err := d.project.TemplateFunctions()
	if err != nil {
		return template.Template{}, err
	}
	global := template.GlobalConfig{
		Runtime:     dc.Runtime,
		Timeout:     dc.FunctionTimeout,
		Memory:      dc.FunctionMemory,
		Environment: d.project.Environment,
	}
	for _, fn := range functions {
		fragment, err := template.BuildFunctionFragment(ctx, fn, global)
		if err != nil {
			return template.Template{}, err
		}
		fragments = append(fragments, fragment)
	}

	overrides, err := d.project.LoadFragments()
	if err != nil {
		return template.Template{}, err
	}
	fragments = append(fragments, overrides...)

	return template.Merge(fragments...)
}

// Validate composes the template and checks it against the wire-shape schema
// and the loaded policies. Blocking policy violations are returned as an error
// alongside the result.
func (d *Deployer) Validate(ctx context.Context, dc *engine.DeploymentContext, operation string) (template.Template, *policy.Result, error) {
	var (
		tmpl   template.Template
		result *policy.Result
	)
	err := d.phase(ctx, "compose", func(ctx context.Context) error {
		var err error
		tmpl, err = d.Compose(ctx, dc)
		if err != nil {
			return err
		}
		if err := d.schema.Validate(tmpl); err != nil {
			return err
		}
		result, err = d.evaluatePolicies(ctx, tmpl, dc, operation)
		return err
	})
	return tmpl, result, err
}

func (d *Deployer) evaluatePolicies(ctx context.Context, tmpl template.Template, dc *engine.DeploymentContext, operation string) (*policy.Result, error) {
	if d.policies == nil {
		return &policy.Result{Allowed: true}, nil
	}

	result, err := d.policies.EvaluateTemplate(ctx, tmpl, policy.Context{
		StackName:   dc.StackName,
		Environment: dc.Environment,
		Operation:   operation,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, w := range result.Warnings {
		d.logger.Warn().
			Str("policy", w.Policy).
			Str("resource", w.Resource).
			Str("severity", string(w.Severity)).
			Msg(w.Message)
	}
	for _, v := range result.Violations {
		d.logger.Error().
			Str("policy", v.Policy).
			Str("resource", v.Resource).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
		_ = d.tel.Events.PublishPolicyViolation(dc.StackName, v.Resource, v.Policy, v.Message, string(v.Severity))
	}
	return result, result.Err()
}
