package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// Mapping names as they appear in the template document.
const (
	MappingParameters = "Parameters"
	MappingResources  = "Resources"
	MappingOutputs    = "Outputs"
)

// Parameter is a declared template parameter.
type Parameter struct {
	Type          string   `json:"Type" yaml:"Type"`
	Description   string   `json:"Description,omitempty" yaml:"Description,omitempty"`
	Default       any      `json:"Default,omitempty" yaml:"Default,omitempty"`
	AllowedValues []string `json:"AllowedValues,omitempty" yaml:"AllowedValues,omitempty"`
	NoEcho        bool     `json:"NoEcho,omitempty" yaml:"NoEcho,omitempty"`
}

// DefaultString returns the declared default rendered as a string and whether one exists.
func (p Parameter) DefaultString() (string, bool) {
	if p.Default == nil {
		return "", false
	}
	if s, ok := p.Default.(string); ok {
		return s, true
	}
	return fmt.Sprint(p.Default), true
}

// Resource is a provider-specific resource document.
type Resource map[string]any

// Type returns the resource's declared type, or "" if absent.
func (r Resource) Type() string {
	t, _ := r["Type"].(string)
	return t
}

// Properties returns the resource's Properties mapping, or nil.
func (r Resource) Properties() map[string]any {
	p, _ := r["Properties"].(map[string]any)
	return p
}

// Output is a template output.
type Output struct {
	Description string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any    `json:"Value,omitempty" yaml:"Value,omitempty"`
}

// Template is the declarative document submitted to the provider. It always
// serializes with exactly the three top-level keys Parameters, Resources and Outputs.
type Template struct {
	Parameters map[string]Parameter `json:"Parameters"`
	Resources  map[string]Resource  `json:"Resources"`
	Outputs    map[string]Output    `json:"Outputs"`
}

// New returns an empty template with all three mappings allocated.
func New() Template {
	return Template{
		Parameters: map[string]Parameter{},
		Resources:  map[string]Resource{},
		Outputs:    map[string]Output{},
	}
}

// MarshalJSON emits all three mappings, using {} for empty ones.
func (t Template) MarshalJSON() ([]byte, error) {
	wire := struct {
		Parameters map[string]Parameter `json:"Parameters"`
		Resources  map[string]Resource  `json:"Resources"`
		Outputs    map[string]Output    `json:"Outputs"`
	}{
		Parameters: t.Parameters,
		Resources:  t.Resources,
		Outputs:    t.Outputs,
	}
	if wire.Parameters == nil {
		wire.Parameters = map[string]Parameter{}
	}
	if wire.Resources == nil {
		wire.Resources = map[string]Resource{}
	}
	if wire.Outputs == nil {
		wire.Outputs = map[string]Output{}
	}
	return encode(wire)
}

// encode marshals v without HTML escaping so parameter types like List<Number>
// survive verbatim.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Body renders the template as the provider template body.
func (t Template) Body() (string, error) {
	data, err := encode(t)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return string(data), nil
}

// ParameterNames returns the declared parameter names in sorted order.
func (t Template) ParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasParameter reports whether name is declared.
func (t Template) HasParameter(name string) bool {
	_, ok := t.Parameters[name]
	return ok
}

// Merge folds fragments left to right into one template. A key defined by more
// than one fragment in the same mapping is a *engine.TemplateCollisionError naming
// the later fragment; nothing is overwritten.
func Merge(fragments ...Template) (Template, error) {
	out := New()
	for i, f := range fragments {
		for _, name := range sortedKeys(f.Parameters) {
			if _, exists := out.Parameters[name]; exists {
				return Template{}, &engine.TemplateCollisionError{Mapping: MappingParameters, Key: name, Fragment: i}
			}
			out.Parameters[name] = f.Parameters[name]
		}
		for _, name := range sortedKeys(f.Resources) {
			if _, exists := out.Resources[name]; exists {
				return Template{}, &engine.TemplateCollisionError{Mapping: MappingResources, Key: name, Fragment: i}
			}
			out.Resources[name] = f.Resources[name]
		}
		for _, name := range sortedKeys(f.Outputs) {
			if _, exists := out.Outputs[name]; exists {
				return Template{}, &engine.TemplateCollisionError{Mapping: MappingOutputs, Key: name, Fragment: i}
			}
			out.Outputs[name] = f.Outputs[name]
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ref returns a Ref intrinsic.
func Ref(name string) map[string]any {
	return map[string]any{"Ref": name}
}

// GetAtt returns a Fn::GetAtt intrinsic.
func GetAtt(resource, attribute string) map[string]any {
	return map[string]any{"Fn::GetAtt": []any{resource, attribute}}
}

// Sub returns a Fn::Sub intrinsic.
func Sub(format string) map[string]any {
	return map[string]any{"Fn::Sub": format}
}
