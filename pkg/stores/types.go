package stores

import (
	"context"
	"time"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// DeploymentStatus represents the status of a journaled invocation
type DeploymentStatus string

const (
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusSucceeded DeploymentStatus = "succeeded"
	DeploymentStatusFailed    DeploymentStatus = "failed"
	DeploymentStatusCancelled DeploymentStatus = "cancelled"
)

// Deployment is one deploy, update or destroy invocation
type Deployment struct {
	ID          string           `json:"id"`
	StackName   string           `json:"stack_name"`
	Environment string           `json:"environment"`
	Operation   string           `json:"operation"` // deploy, update, destroy
	Status      DeploymentStatus `json:"status"`
	Outcome     string           `json:"outcome,omitempty"`
	ChangeSet   string           `json:"changeset,omitempty"`
	Error       *string          `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Completion is the final state written when an invocation ends
type Completion struct {
	Status    DeploymentStatus
	Outcome   string
	ChangeSet string
	Err       error
}

// StackEventRecord is a stack event attributed to the invocation that observed it
type StackEventRecord struct {
	engine.StackEvent
	DeploymentID string `json:"deployment_id"`
}

// Artifact is a function bundle known to be present in a bucket
type Artifact struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	LogicalName string    `json:"logical_name"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Journal defines the interface for the deployment journal
type Journal interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	CompleteDeployment(ctx context.Context, id string, c Completion) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, stackName string, limit, offset int) ([]*Deployment, error)

	// Stack event operations
	AppendStackEvent(ctx context.Context, deploymentID string, event engine.StackEvent) error
	ListStackEvents(ctx context.Context, deploymentID string) ([]*StackEventRecord, error)
	EventSink(deploymentID string) engine.EventSink

	// Artifact operations
	RecordArtifact(ctx context.Context, a *Artifact) error
	HasArtifact(ctx context.Context, bucket, key string) (bool, error)
	ListArtifacts(ctx context.Context, bucket string) ([]*Artifact, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
