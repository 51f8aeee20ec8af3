package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/openfroyo/froyostack/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDeploymentNotFound is returned when a deployment ID is not journaled.
var ErrDeploymentNotFound = errors.New("deployment not found")

// SQLiteStore implements Journal on SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config contains SQLite journal configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the default journal configuration
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// NewSQLiteStore creates a new SQLite journal
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{config: cfg}, nil
}

// Open creates, initializes and migrates a journal at path
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection
func (s *SQLiteStore) Init(ctx context.Context) error {
	memory := s.config.Path == ":memory:"
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", s.config.Path)
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.config.MaxOpenConns)
		db.SetMaxIdleConns(s.config.MaxIdleConns)
		db.SetConnMaxLifetime(s.config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateDeployment journals the start of an invocation
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	if d.StartedAt.IsZero() {
		d.StartedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = DeploymentStatusRunning
	}

	query := `
		INSERT INTO deployments (id, stack_name, environment, operation, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.StackName,
		d.Environment,
		d.Operation,
		d.Status,
		d.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// CompleteDeployment records the final state of an invocation
func (s *SQLiteStore) CompleteDeployment(ctx context.Context, id string, c Completion) error {
	var errMsg *string
	if c.Err != nil {
		msg := c.Err.Error()
		errMsg = &msg
	}

	query := `
		UPDATE deployments
		SET status = ?, outcome = ?, changeset = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		c.Status,
		c.Outcome,
		c.ChangeSet,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	return nil
}

const deploymentColumns = `id, stack_name, environment, operation, status, outcome, changeset, error, started_at, completed_at`

// GetDeployment retrieves a deployment by ID
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)

	d, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	return d, nil
}

// ListDeployments lists invocations newest first. An empty stackName lists every stack.
func (s *SQLiteStore) ListDeployments(ctx context.Context, stackName string, limit, offset int) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE (? = '' OR stack_name = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, stackName, stackName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	return deployments, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	d := &Deployment{}
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&d.ID,
		&d.StackName,
		&d.Environment,
		&d.Operation,
		&d.Status,
		&d.Outcome,
		&d.ChangeSet,
		&errMsg,
		&d.StartedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		d.Error = &errMsg.String
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	return d, nil
}

// AppendStackEvent journals a stack event. Events already recorded are ignored.
func (s *SQLiteStore) AppendStackEvent(ctx context.Context, deploymentID string, event engine.StackEvent) error {
	query := `
		INSERT OR IGNORE INTO stack_events
			(id, deployment_id, stack_name, timestamp, resource_type, resource_id, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		deploymentID,
		event.StackName,
		event.Timestamp.UTC(),
		event.ResourceType,
		event.ResourceID,
		string(event.Status),
		event.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to append stack event: %w", err)
	}
	return nil
}

// ListStackEvents returns the events of one invocation in chronological order
func (s *SQLiteStore) ListStackEvents(ctx context.Context, deploymentID string) ([]*StackEventRecord, error) {
	query := `
		SELECT id, deployment_id, stack_name, timestamp, resource_type, resource_id, status, reason
		FROM stack_events
		WHERE deployment_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stack events: %w", err)
	}
	defer rows.Close()

	events := []*StackEventRecord{}
	for rows.Next() {
		e := &StackEventRecord{}
		var status string
		err := rows.Scan(
			&e.ID,
			&e.DeploymentID,
			&e.StackName,
			&e.Timestamp,
			&e.ResourceType,
			&e.ResourceID,
			&status,
			&e.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stack event: %w", err)
		}
		e.Status = engine.StackStatus(status)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stack events: %w", err)
	}

	return events, nil
}

// EventSink returns a sink that journals events under deploymentID.
func (s *SQLiteStore) EventSink(deploymentID string) engine.EventSink {
	return engine.EventSinkFunc(func(ctx context.Context, event engine.StackEvent) error {
		return s.AppendStackEvent(ctx, deploymentID, event)
	})
}

// RecordArtifact records an uploaded bundle, replacing any earlier record for the key
func (s *SQLiteStore) RecordArtifact(ctx context.Context, a *Artifact) error {
	if a.UploadedAt.IsZero() {
		a.UploadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (bucket, remote_key, logical_name, content_hash, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket, remote_key) DO UPDATE SET
			logical_name = excluded.logical_name,
			content_hash = excluded.content_hash,
			size = excluded.size,
			uploaded_at = excluded.uploaded_at
	`

	_, err := s.db.ExecContext(ctx, query,
		a.Bucket,
		a.Key,
		a.LogicalName,
		a.ContentHash,
		a.Size,
		a.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	return nil
}

// HasArtifact reports whether a bundle was recorded for bucket and key
func (s *SQLiteStore) HasArtifact(ctx context.Context, bucket, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM artifacts WHERE bucket = ? AND remote_key = ?`,
		bucket, key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check artifact: %w", err)
	}
	return n > 0, nil
}

// ListArtifacts lists the bundles recorded for a bucket, newest first
func (s *SQLiteStore) ListArtifacts(ctx context.Context, bucket string) ([]*Artifact, error) {
	query := `
		SELECT bucket, remote_key, logical_name, content_hash, size, uploaded_at
		FROM artifacts
		WHERE bucket = ?
		ORDER BY uploaded_at DESC, remote_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []*Artifact{}
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.Bucket, &a.Key, &a.LogicalName, &a.ContentHash, &a.Size, &a.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating artifacts: %w", err)
	}

	return artifacts, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
