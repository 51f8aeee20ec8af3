package config

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/engine"
	"github.com/openfroyo/froyostack/pkg/storage"
	"github.com/openfroyo/froyostack/pkg/template"
)

// stackNamePattern is the provider's stack name syntax.
var stackNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("stackname", func(fl validator.FieldLevel) bool {
		return stackNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Load reads and validates a project file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	p.dir = abs
	return p, nil
}

// Parse decodes and validates project YAML. Relative paths resolve against the working directory.
func Parse(data []byte) (*Project, error) {
	var p Project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}

	p.applyDefaults()

	if err := newValidator().Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	return &p, nil
}

func (p *Project) applyDefaults() {
	if p.Runtime == "" {
		p.Runtime = DefaultRuntime
	}
	if p.NodeVersion == "" {
		p.NodeVersion = nodeVersion(p.Runtime)
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Memory == 0 {
		p.Memory = DefaultMemory
	}
	if p.Journal == "" {
		p.Journal = DefaultJournalPath
	}
	if p.BuildDir == "" {
		p.BuildDir = DefaultBuildDir
	}
	for i := range p.Functions {
		for j, m := range p.Functions[i].Methods {
			p.Functions[i].Methods[j] = strings.ToUpper(strings.TrimSpace(m))
		}
	}
}

// nodeVersion extracts "20" from "nodejs20.x".
func nodeVersion(runtime string) string {
	v := strings.TrimPrefix(runtime, "nodejs")
	v, _, _ = strings.Cut(v, ".")
	if v == runtime || v == "" {
		return ""
	}
	return v
}

// Path resolves a project-relative path.
func (p *Project) Path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) || p.dir == "" {
		return rel
	}
	return filepath.Join(p.dir, rel)
}

// EnvironmentNames returns the configured environments sorted by name.
func (p *Project) EnvironmentNames() []string {
	return slices.Sorted(maps.Keys(p.Environments))
}

// StackName returns the stack an environment deploys to.
func (p *Project) StackName(env string) (string, error) {
	e, ok := p.Environments[env]
	if !ok {
		return "", fmt.Errorf("unknown environment %q (configured: %s)", env, strings.Join(p.EnvironmentNames(), ", "))
	}
	if e.StackName != "" {
		return e.StackName, nil
	}
	return p.Name + "-" + env, nil
}

// DeploymentContext builds the value passed from the composer to the resolver and orchestrator.
func (p *Project) DeploymentContext(env string) (*engine.DeploymentContext, error) {
	stackName, err := p.StackName(env)
	if err != nil {
		return nil, err
	}
	e := p.Environments[env]

	region := p.Region
	if e.Region != "" {
		region = e.Region
	}
	bucket := p.Bucket
	if e.Bucket != "" {
		bucket = e.Bucket
	}

	known := map[string]string{
		template.EnvironmentParameter:      env,
		template.DeploymentBucketParameter: bucket,
	}
	for k, v := range e.Parameters {
		known[k] = v
	}

	noPrompt := []string{template.EnvironmentParameter, template.DeploymentBucketParameter}
	for _, fn := range p.Functions {
		noPrompt = append(noPrompt, template.S3KeyParameter(fn.Name))
	}
	sort.Strings(noPrompt)

	tags := map[string]string{"froyo:project": p.Name, "froyo:environment": env}
	maps.Copy(tags, p.Tags)
	maps.Copy(tags, e.Tags)

	return &engine.DeploymentContext{
		ID:              uuid.New().String(),
		StackName:       stackName,
		Environment:     env,
		Region:          region,
		Bucket:          bucket,
		Runtime:         p.Runtime,
		FunctionTimeout: p.Timeout,
		FunctionMemory:  p.Memory,
		Externals:       slices.Clone(p.Externals),
		KnownParameters: known,
		NoPrompt:        noPrompt,
		UseChangeset:    p.UseChangeset,
		Tags:            tags,
	}, nil
}

// GlobalConfig returns the settings shared by every function fragment.
func (p *Project) GlobalConfig() template.GlobalConfig {
	return template.GlobalConfig{
		Runtime:     p.Runtime,
		Timeout:     p.Timeout,
		Memory:      p.Memory,
		Environment: maps.Clone(p.Environment),
	}
}

// TemplateFunctions converts the function list for the composer, loading Starlark overrides.
func (p *Project) TemplateFunctions() ([]template.Function, error) {
	out := make([]template.Function, 0, len(p.Functions))
	for _, fn := range p.Functions {
		tf := template.Function{
			Name:        fn.Name,
			Path:        fn.Path,
			Methods:     slices.Clone(fn.Methods),
			Timeout:     fn.Timeout,
			Memory:      fn.Memory,
			Environment: maps.Clone(fn.Environment),
		}
		if fn.Fragment != "" {
			producer, err := template.LoadStarlarkProducer(p.Path(fn.Fragment))
			if err != nil {
				return nil, fmt.Errorf("function %s: %w", fn.Name, err)
			}
			tf.Override = producer
		}
		out = append(out, tf)
	}
	return out, nil
}

// ArtifactSources lists the function sources to package.
func (p *Project) ArtifactSources() []artifact.Source {
	out := make([]artifact.Source, 0, len(p.Functions))
	for _, fn := range p.Functions {
		out = append(out, artifact.Source{File: p.Path(fn.Source), Name: fn.Name})
	}
	return out
}

// BuildOptions returns the bundler options.
func (p *Project) BuildOptions() artifact.BuildOptions {
	return artifact.BuildOptions{
		Externals:   slices.Clone(p.Externals),
		NodeVersion: p.NodeVersion,
		Minify:      true,
	}
}

// SiteRules converts the site metadata rules for StorageSync.
func (p *Project) SiteRules() []storage.Rule {
	if p.Site == nil {
		return nil
	}
	rules := make([]storage.Rule, 0, len(p.Site.Rules))
	for _, r := range p.Site.Rules {
		rule := storage.Rule{
			Pattern: r.Pattern,
			Metadata: engine.ObjectMetadata{
				CacheControl:       r.CacheControl,
				ContentType:        r.ContentType,
				ContentEncoding:    r.ContentEncoding,
				ContentDisposition: r.ContentDisposition,
			},
		}
		if r.Skip {
			rule.ShouldUpload = func(string) bool { return false }
		}
		rules = append(rules, rule)
	}
	return rules
}

// LoadFragments loads the user override fragments in declaration order.
func (p *Project) LoadFragments() ([]template.Template, error) {
	out := make([]template.Template, 0, len(p.Fragments))
	for _, f := range p.Fragments {
		t, err := template.LoadFile(p.Path(f))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// PolicyPaths returns the resolved policy paths.
func (p *Project) PolicyPaths() []string {
	out := make([]string, 0, len(p.Policies))
	for _, path := range p.Policies {
		out = append(out, p.Path(path))
	}
	return out
}
