package engine

import (
	"context"
	"io"
)

// InfraClient is the infrastructure provider the orchestrator converges against.
// Status strings are passed through as the provider defines them; implementations
// return an error wrapping ErrStackNotFound when a stack does not exist.
type InfraClient interface {
	// ListStacks lists every stack the provider still tracks, including deleted ones.
	ListStacks(ctx context.Context) ([]StackSummary, error)

	// DescribeStack returns the live stack, its parameters and outputs.
	DescribeStack(ctx context.Context, stackName string) (*StackDescription, error)

	// GetTemplate returns the template body currently stored for a stack.
	GetTemplate(ctx context.Context, stackName string) (string, error)

	// CreateStack creates a stack directly and returns its ID.
	CreateStack(ctx context.Context, req StackRequest) (string, error)

	// UpdateStack updates a stack directly and returns its ID.
	UpdateStack(ctx context.Context, req StackRequest) (string, error)

	// DeleteStack requests stack deletion.
	DeleteStack(ctx context.Context, stackName string) error

	// CreateChangeset submits a changeset and returns its ID.
	CreateChangeset(ctx context.Context, req ChangesetRequest) (string, error)

	// DescribeChangeset returns the current changeset status.
	DescribeChangeset(ctx context.Context, stackName, changeSet string) (*ChangesetDescription, error)

	// ExecuteChangeset applies a changeset that is ready to execute.
	ExecuteChangeset(ctx context.Context, stackName, changeSet string) error

	// DescribeStackEvents returns provisioning events, newest first.
	DescribeStackEvents(ctx context.Context, stackName string) ([]StackEvent, error)
}

// ObjectStore is the remote object storage receiving artifacts and static assets.
type ObjectStore interface {
	// BucketExists reports whether the bucket exists and is reachable.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// CreateBucket creates a bucket.
	CreateBucket(ctx context.Context, bucket string) error

	// PutObject uploads one object with its metadata.
	PutObject(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64, meta ObjectMetadata) error

	// ListObjects lists every object whose key starts with prefix. It returns
	// an error wrapping ErrBucketNotFound when the bucket does not exist.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// DeleteObjects removes the given keys.
	DeleteObjects(ctx context.Context, bucket string, keys []string) error
}

// InputKind selects how a prompt collects its answer.
type InputKind string

const (
	InputFreeText InputKind = "free-text"
	InputChoice   InputKind = "choice"
)

// PromptRequest is one question asked of the operator.
type PromptRequest struct {
	Name    string    `json:"name"`
	Message string    `json:"message"`
	Kind    InputKind `json:"kind"`
	Default string    `json:"default,omitempty"`
	Choices []string  `json:"choices,omitempty"`
	Secret  bool      `json:"secret,omitempty"`
}

// Prompter asks the operator an ordered list of questions and returns name -> answer.
// An empty answer means the operator accepted the default.
type Prompter interface {
	Prompt(ctx context.Context, requests []PromptRequest) (map[string]string, error)
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// EventSink receives every new stack event the monitor observes, in chronological order.
type EventSink interface {
	Emit(ctx context.Context, event StackEvent) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event StackEvent) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, event StackEvent) error {
	return f(ctx, event)
}
