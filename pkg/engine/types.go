package engine

import (
	"time"
)

// StackResourceType is the resource type the provider reports for the stack itself.
const StackResourceType = "AWS::CloudFormation::Stack"

// DeploymentContext carries everything one deploy, update or destroy invocation
// needs. It is built once by the configuration layer and passed explicitly from
// the composer to the resolver and on to the orchestrator.
type DeploymentContext struct {
	// ID identifies this invocation in logs, metrics and the journal.
	ID string `json:"id"`

	// StackName is the provider stack the invocation converges.
	StackName string `json:"stack_name"`

	// Environment is the operator-selected environment (dev, production, ...).
	Environment string `json:"environment"`

	// Region is the provider region.
	Region string `json:"region"`

	// Bucket is the object-store bucket receiving function bundles and static assets.
	Bucket string `json:"bucket"`

	// Runtime is the function runtime identifier (e.g. nodejs20.x).
	Runtime string `json:"runtime"`

	// FunctionTimeout is the default function timeout.
	FunctionTimeout time.Duration `json:"function_timeout"`

	// FunctionMemory is the default function memory size in MB.
	FunctionMemory int `json:"function_memory"`

	// Externals are module names left out of function bundles.
	Externals []string `json:"externals,omitempty"`

	// KnownParameters are parameter values already known from configuration.
	KnownParameters map[string]string `json:"known_parameters,omitempty"`

	// NoPrompt lists parameters that are always supplied programmatically.
	NoPrompt []string `json:"no_prompt,omitempty"`

	// AllowRePrompt asks again for parameters the live stack already carries.
	AllowRePrompt bool `json:"allow_reprompt"`

	// UseChangeset submits creates as CREATE changesets instead of direct stack creation.
	UseChangeset bool `json:"use_changeset"`

	// Tags are applied to the stack.
	Tags map[string]string `json:"tags,omitempty"`
}

// StackIdentity is computed once per deployment.
type StackIdentity struct {
	StackName string `json:"stack_name"`
	Exists    bool   `json:"exists"`
}

// StackSummary is one row of a list-stacks response.
type StackSummary struct {
	StackName string      `json:"stack_name"`
	StackID   string      `json:"stack_id"`
	Status    StackStatus `json:"status"`
}

// StackDescription is the provider's view of a live stack.
type StackDescription struct {
	StackName    string            `json:"stack_name"`
	StackID      string            `json:"stack_id"`
	Status       StackStatus       `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Outputs      map[string]string `json:"outputs,omitempty"`
}

// StackEvent is one provisioning event reported by the provider.
type StackEvent struct {
	ID           string      `json:"id"`
	StackName    string      `json:"stack_name"`
	Timestamp    time.Time   `json:"timestamp"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id"`
	Status       StackStatus `json:"status"`
	Reason       string      `json:"reason,omitempty"`
}

// IsStackLevel returns true if the event describes the stack itself.
func (e StackEvent) IsStackLevel() bool {
	return e.ResourceType == StackResourceType && e.ResourceID == e.StackName
}

// ParameterValue is one parameter submitted with a stack or changeset request.
type ParameterValue struct {
	Key         string `json:"key"`
	Value       string `json:"value,omitempty"`
	UsePrevious bool   `json:"use_previous,omitempty"`
}

// StackRequest is the input to create-stack, update-stack and create-changeset.
type StackRequest struct {
	StackName           string            `json:"stack_name"`
	TemplateBody        string            `json:"template_body,omitempty"`
	UsePreviousTemplate bool              `json:"use_previous_template,omitempty"`
	Parameters          []ParameterValue  `json:"parameters,omitempty"`
	Tags                map[string]string `json:"tags,omitempty"`
}

// ChangesetRequest adds changeset identity to a StackRequest.
type ChangesetRequest struct {
	StackRequest
	ChangeSetName string        `json:"change_set_name"`
	Type          ChangesetType `json:"type"`
}

// ChangesetDescription is the result of polling a changeset.
type ChangesetDescription struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	StackID string          `json:"stack_id,omitempty"`
	Status  ChangesetStatus `json:"status"`
	Reason  string          `json:"reason,omitempty"`
}

// ObjectMetadata is the per-object metadata attached to an upload.
type ObjectMetadata struct {
	ContentType        string            `json:"content_type,omitempty"`
	CacheControl       string            `json:"cache_control,omitempty"`
	ContentEncoding    string            `json:"content_encoding,omitempty"`
	ContentDisposition string            `json:"content_disposition,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// ObjectInfo is one entry of a list-objects response.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
