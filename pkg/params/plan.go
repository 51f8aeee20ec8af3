// Package params decides which template parameters are supplied automatically
// and which must be asked of the operator.
package params

import (
	"fmt"
	"sort"

	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/template"
)

// KeepPreviousDefault is the prompt default shown for parameters the live stack
// already carries. Accepting it keeps the previous value.
const KeepPreviousDefault = "(keep previous value)"

// Value is a resolved parameter value: either a literal or "keep the value the
// live stack already has".
type Value struct {
	Literal     string
	UsePrevious bool
}

// KeepPrevious marks a parameter to reuse the live stack's value.
var KeepPrevious = Value{UsePrevious: true}

// Literal returns a literal Value.
func Literal(v string) Value {
	return Value{Literal: v}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.UsePrevious {
		return KeepPreviousDefault
	}
	return v.Literal
}

// Options tune planning.
type Options struct {
	// AllowRePrompt asks again for parameters the live stack already carries,
	// offering to keep the previous value.
	AllowRePrompt bool

	// NoPrompt lists parameters that are always supplied programmatically and
	// must never be asked of the operator.
	NoPrompt []string
}

// Plan partitions a template's declared parameters into values supplied
// automatically and prompts for the operator. Auto and Prompts are disjoint and
// together cover exactly the declared parameter names.
type Plan struct {
	Auto    map[string]Value
	Prompts []engine.PromptRequest
}

// NewPlan plans the parameters of tmpl.
//
// known holds values already known from configuration or computed by the
// deployment (bundle keys, bucket names). live holds the parameter names the
// existing stack carries, empty for a stack that does not exist yet. A known
// value for a parameter tmpl does not declare is an *engine.UndeclaredParameterError.
func NewPlan(tmpl template.Template, known map[string]string, live []string, opts Options) (*Plan, error) {
	var undeclared []string
	for name := range known {
		if !tmpl.HasParameter(name) {
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, &engine.UndeclaredParameterError{Names: undeclared}
	}

	liveSet := make(map[string]struct{}, len(live))
	for _, name := range live {
		liveSet[name] = struct{}{}
	}
	noPrompt := make(map[string]struct{}, len(opts.NoPrompt))
	for _, name := range opts.NoPrompt {
		noPrompt[name] = struct{}{}
	}

	plan := &Plan{Auto: make(map[string]Value)}
	for _, name := range tmpl.ParameterNames() {
		param := tmpl.Parameters[name]

		if v, ok := known[name]; ok {
			plan.Auto[name] = Literal(v)
			continue
		}

		_, isLive := liveSet[name]
		if _, excluded := noPrompt[name]; excluded {
			switch def, hasDefault := param.DefaultString(); {
			case isLive:
				plan.Auto[name] = KeepPrevious
			case hasDefault:
				plan.Auto[name] = Literal(def)
			default:
				return nil, fmt.Errorf("parameter %s is supplied programmatically but no value was provided", name)
			}
			continue
		}

		if isLive {
			if !opts.AllowRePrompt {
				plan.Auto[name] = KeepPrevious
				continue
			}
			req := promptFor(name, param)
			req.Default = KeepPreviousDefault
			plan.Prompts = append(plan.Prompts, req)
			continue
		}

		req := promptFor(name, param)
		if def, ok := param.DefaultString(); ok {
			req.Default = def
		}
		plan.Prompts = append(plan.Prompts, req)
	}

	return plan, nil
}

func promptFor(name string, param template.Parameter) engine.PromptRequest {
	msg := name
	if param.Description != "" {
		msg = fmt.Sprintf("%s (%s)", param.Description, name)
	}
	req := engine.PromptRequest{
		Name:    name,
		Message: msg,
		Kind:    engine.InputFreeText,
		Secret:  param.NoEcho,
	}
	if len(param.AllowedValues) > 0 {
		req.Kind = engine.InputChoice
		req.Choices = append([]string(nil), param.AllowedValues...)
	}
	return req
}

// Resolve combines the automatic values with the operator's answers. An empty or
// missing answer takes the prompt default; the KeepPreviousDefault sentinel
// resolves to KeepPrevious. A prompt left without any value is an error, and a
// choice prompt rejects answers outside its choices.
func (p *Plan) Resolve(answers map[string]string) (map[string]Value, error) {
	out := make(map[string]Value, len(p.Auto)+len(p.Prompts))
	for name, v := range p.Auto {
		out[name] = v
	}

	for _, req := range p.Prompts {
		answer := answers[req.Name]
		if answer == "" {
			answer = req.Default
		}
		if answer == KeepPreviousDefault {
			out[req.Name] = KeepPrevious
			continue
		}
		if answer == "" {
			return nil, fmt.Errorf("parameter %s: a value is required", req.Name)
		}
		if req.Kind == engine.InputChoice && !contains(req.Choices, answer) {
			return nil, fmt.Errorf("parameter %s: %q is not one of %v", req.Name, answer, req.Choices)
		}
		out[req.Name] = Literal(answer)
	}
	return out, nil
}

// PromptNames returns the names of the parameters that will be prompted for.
func (p *Plan) PromptNames() []string {
	names := make([]string, len(p.Prompts))
	for i, req := range p.Prompts {
		names[i] = req.Name
	}
	return names
}

// ToProvider converts resolved values into provider parameters sorted by key.
func ToProvider(values map[string]Value) []engine.ParameterValue {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]engine.ParameterValue, 0, len(names))
	for _, name := range names {
		v := values[name]
		if v.UsePrevious {
			out = append(out, engine.ParameterValue{Key: name, UsePrevious: true})
		} else {
			out = append(out, engine.ParameterValue{Key: name, Value: v.Literal})
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
