package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// setupTestStore creates an in-memory SQLite journal for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, store.HealthCheck(ctx), "health check before init")
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

func TestStoreMigrationsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.CreateDeployment(ctx, &Deployment{ID: "d1", StackName: "site", Operation: "deploy"}))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	d, err := reopened.GetDeployment(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "site", d.StackName)
}

func TestDeploymentLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	d := &Deployment{
		ID:          "dep-1",
		StackName:   "site-production",
		Environment: "production",
		Operation:   "deploy",
	}
	require.NoError(t, store.CreateDeployment(ctx, d))
	assert.Equal(t, DeploymentStatusRunning, d.Status)
	assert.False(t, d.StartedAt.IsZero())

	got, err := store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, DeploymentStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	err = store.CompleteDeployment(ctx, "dep-1", Completion{
		Status:    DeploymentStatusFailed,
		Outcome:   "failed",
		ChangeSet: "site-production-abc",
		Err:       errors.New("resource Bucket failed"),
	})
	require.NoError(t, err)

	got, err = store.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, DeploymentStatusFailed, got.Status)
	assert.Equal(t, "site-production-abc", got.ChangeSet)
	require.NotNil(t, got.Error)
	assert.Equal(t, "resource Bucket failed", *got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestDeploymentNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetDeployment(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeploymentNotFound)

	err = store.CompleteDeployment(ctx, "missing", Completion{Status: DeploymentStatusSucceeded})
	assert.ErrorIs(t, err, ErrDeploymentNotFound)
}

func TestListDeployments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, stack := range []string{"a", "b", "a", "a"} {
		require.NoError(t, store.CreateDeployment(ctx, &Deployment{
			ID:        string(rune('1' + i)),
			StackName: stack,
			Operation: "deploy",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListDeployments(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "4", all[0].ID, "newest first")

	onlyA, err := store.ListDeployments(ctx, "a", 2, 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "4", onlyA[0].ID)
	assert.Equal(t, "3", onlyA[1].ID)

	page, err := store.ListDeployments(ctx, "a", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "1", page[0].ID)
}

func TestStackEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDeployment(ctx, &Deployment{ID: "dep-1", StackName: "site", Operation: "update"}))

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []engine.StackEvent{
		{ID: "e1", StackName: "site", Timestamp: t0, ResourceType: engine.StackResourceType, ResourceID: "site", Status: engine.StackUpdateInProgress},
		{ID: "e2", StackName: "site", Timestamp: t0.Add(time.Second), ResourceType: "AWS::S3::Bucket", ResourceID: "Assets", Status: engine.StackUpdateComplete},
	}

	sink := store.EventSink("dep-1")
	for _, e := range events {
		require.NoError(t, sink.Emit(ctx, e))
	}
	// duplicates are ignored
	require.NoError(t, sink.Emit(ctx, events[1]))

	got, err := store.ListStackEvents(ctx, "dep-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "dep-1", got[0].DeploymentID)
	assert.Equal(t, engine.StackUpdateComplete, got[1].Status)
	assert.Equal(t, "Assets", got[1].ResourceID)
	assert.True(t, got[1].Timestamp.Equal(t0.Add(time.Second)))
}

func TestStackEventRequiresDeployment(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendStackEvent(context.Background(), "missing", engine.StackEvent{
		ID:        "e1",
		StackName: "site",
		Timestamp: time.Now(),
		Status:    engine.StackCreateInProgress,
	})
	assert.Error(t, err, "foreign key should reject unknown deployment")
}

func TestArtifacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok, err := store.HasArtifact(ctx, "bucket", "functions/api-abc.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RecordArtifact(ctx, &Artifact{
		Bucket:      "bucket",
		Key:         "functions/api-abc.zip",
		LogicalName: "api",
		ContentHash: "abc",
		Size:        10,
	}))
	require.NoError(t, store.RecordArtifact(ctx, &Artifact{
		Bucket:      "bucket",
		Key:         "functions/api-abc.zip",
		LogicalName: "api",
		ContentHash: "abc",
		Size:        12,
	}))
	require.NoError(t, store.RecordArtifact(ctx, &Artifact{
		Bucket:      "other",
		Key:         "functions/worker-def.zip",
		LogicalName: "worker",
		ContentHash: "def",
		Size:        5,
	}))

	ok, err = store.HasArtifact(ctx, "bucket", "functions/api-abc.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasArtifact(ctx, "bucket", "functions/worker-def.zip")
	require.NoError(t, err)
	assert.False(t, ok, "artifacts are scoped to a bucket")

	list, err := store.ListArtifacts(ctx, "bucket")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(12), list[0].Size)
}
