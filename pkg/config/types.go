package config

import (
	"time"
)

// DefaultFileName is the project file looked up in the working directory.
const DefaultFileName = "froyo.yaml"

// Defaults applied to fields the project file leaves empty.
const (
	DefaultRuntime     = "nodejs20.x"
	DefaultTimeout     = 10 * time.Second
	DefaultMemory      = 256
	DefaultJournalPath = ".froyo/journal.db"
	DefaultBuildDir    = ".froyo/build"
)

// Project is the decoded froyo.yaml.
type Project struct {
	// Name prefixes the stack name of every environment (<name>-<env>).
	Name string `yaml:"name" validate:"required,stackname"`

	// Region is the default provider region.
	Region string `yaml:"region" validate:"required"`

	// Profile is the shared credentials profile. Empty uses the default chain.
	Profile string `yaml:"profile,omitempty"`

	// Bucket receives function bundles. Environments may override it.
	Bucket string `yaml:"bucket" validate:"required"`

	// Runtime is the function runtime identifier.
	Runtime string `yaml:"runtime,omitempty"`

	// NodeVersion is the bundler target (e.g. "20"). Derived from Runtime when empty.
	NodeVersion string `yaml:"node_version,omitempty"`

	// Timeout is the default function timeout.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"omitempty,min=1s,max=15m"`

	// Memory is the default function memory size in MB.
	Memory int `yaml:"memory,omitempty" validate:"omitempty,min=128,max=10240"`

	// Externals are module names left out of function bundles.
	Externals []string `yaml:"externals,omitempty"`

	// Environment variables shared by every function.
	Environment map[string]string `yaml:"environment,omitempty"`

	// Functions are the serverless functions of the project.
	Functions []Function `yaml:"functions,omitempty" validate:"unique=Name,dive"`

	// Site is the static site synced to the stack's site bucket.
	Site *Site `yaml:"site,omitempty"`

	// Features toggles the optional builtin fragments.
	Features Features `yaml:"features,omitempty"`

	// Fragments are user template files merged last.
	Fragments []string `yaml:"fragments,omitempty"`

	// Policies are rego files or directories evaluated against the composed template.
	Policies []string `yaml:"policies,omitempty"`

	// UseChangeset creates new stacks through a CREATE changeset.
	UseChangeset bool `yaml:"use_changeset,omitempty"`

	// Tags are applied to every stack.
	Tags map[string]string `yaml:"tags,omitempty"`

	// Environments maps environment names to their settings.
	Environments map[string]Environment `yaml:"environments" validate:"required,min=1,dive,keys,stackname,endkeys"`

	// Journal is the deployment journal database path.
	Journal string `yaml:"journal,omitempty"`

	// BuildDir receives packaged bundles.
	BuildDir string `yaml:"build_dir,omitempty"`

	// dir is the directory holding the project file; relative paths resolve against it.
	dir string
}

// Environment holds per-environment overrides and known parameter values.
type Environment struct {
	// StackName overrides <name>-<env>.
	StackName string `yaml:"stack_name,omitempty" validate:"omitempty,stackname"`

	// Region overrides the project region.
	Region string `yaml:"region,omitempty"`

	// Bucket overrides the project bucket.
	Bucket string `yaml:"bucket,omitempty"`

	// Parameters are template parameter values known for this environment.
	Parameters map[string]string `yaml:"parameters,omitempty"`

	// Tags are merged over the project tags.
	Tags map[string]string `yaml:"tags,omitempty"`
}

// Function describes one serverless function.
type Function struct {
	Name        string            `yaml:"name" validate:"required"`
	Source      string            `yaml:"source" validate:"required"`
	Path        string            `yaml:"path,omitempty" validate:"omitempty,startswith=/"`
	Methods     []string          `yaml:"methods,omitempty" validate:"dive,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS ANY"`
	Timeout     time.Duration     `yaml:"timeout,omitempty" validate:"omitempty,min=1s,max=15m"`
	Memory      int               `yaml:"memory,omitempty" validate:"omitempty,min=128,max=10240"`
	Environment map[string]string `yaml:"environment,omitempty"`

	// Fragment is a Starlark file whose fragment replaces the standard expansion.
	Fragment string `yaml:"fragment,omitempty"`
}

// Site describes the static site directory.
type Site struct {
	Dir    string     `yaml:"dir" validate:"required"`
	Prefix string     `yaml:"prefix,omitempty"`
	Rules  []SiteRule `yaml:"rules,omitempty" validate:"dive"`
}

// SiteRule attaches metadata to files matching Pattern. The first matching rule wins.
type SiteRule struct {
	Pattern            string `yaml:"pattern" validate:"required"`
	CacheControl       string `yaml:"cache_control,omitempty"`
	ContentType        string `yaml:"content_type,omitempty"`
	ContentEncoding    string `yaml:"content_encoding,omitempty"`
	ContentDisposition string `yaml:"content_disposition,omitempty"`

	// Skip excludes matched files from upload.
	Skip bool `yaml:"skip,omitempty"`
}

// Features toggles optional builtin fragments.
type Features struct {
	CDN  bool `yaml:"cdn,omitempty"`
	Auth bool `yaml:"auth,omitempty"`
}
