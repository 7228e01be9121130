package deploylog

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/gh-nvat/bluegreen/src/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the subset of pgxpool.Pool used by PostgresStore
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps records in the deployment_events table
type PostgresStore struct {
	db DB
}

// Ensure PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new database-backed store
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPool connects to the database and checks it is reachable
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	logger.Info("Applying deployment log migrations")
	if err := goose.UpContext(runCtx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// recordColumns extracts the indexed columns of a record
func recordColumns(rec models.Record) (id string, color models.Color, success bool) {
	switch r := rec.(type) {
	case *models.DeploymentRecord:
		return r.ID, r.DeployedTo, r.Success
	case *models.RollbackRecord:
		return r.ID, r.RolledBackTo, r.Success
	}
	return "", "", false
}

func (p *PostgresStore) Append(ctx context.Context, rec models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	payload, err := Encode(rec)
	if err != nil {
		return err
	}
	id, color, success := recordColumns(rec)
	if id == "" {
		id = uuid.NewString()
	}

	const query = `INSERT INTO deployment_events (id, kind, group_name, color, success, recorded_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := p.db.Exec(ctx, query, id, string(rec.Kind()), rec.Group(), string(color), success, rec.RecordedAt(), payload); err != nil {
		return fmt.Errorf("failed to insert %s record: %w", rec.Kind(), err)
	}
	logger.WithField("id", id).WithField("kind", rec.Kind()).Info("Appended record")
	return nil
}

func (p *PostgresStore) FindLastSuccessfulDeployment(ctx context.Context, match func(*models.DeploymentRecord) bool) (*models.DeploymentRecord, error) {
	const query = `SELECT kind, payload FROM deployment_events
		WHERE kind = 'deployment' AND success
		ORDER BY recorded_at DESC`
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if entry.Deployment != nil && (match == nil || match(entry.Deployment)) {
			return entry.Deployment, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deployments: %w", err)
	}
	return nil, ErrNoRecord
}

func (p *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]models.LogEntry, error) {
	const query = `SELECT kind, payload FROM deployment_events
		WHERE ($1 = '' OR group_name = $1) AND ($2 = '' OR kind = $2)
		ORDER BY recorded_at DESC
		LIMIT NULLIF($3, 0)`
	rows, err := p.db.Query(ctx, query, filter.Group, string(filter.Kind), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return entries, nil
}

func scanEntry(rows pgx.Rows) (models.LogEntry, error) {
	var kind string
	var payload []byte
	if err := rows.Scan(&kind, &payload); err != nil {
		return models.LogEntry{}, fmt.Errorf("failed to scan record: %w", err)
	}
	return Decode(models.RecordKind(kind), payload)
}
