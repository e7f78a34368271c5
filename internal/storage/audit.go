package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createAuditTable = `CREATE TABLE IF NOT EXISTS admin_activity (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	actor_id VARCHAR(64) NOT NULL,
	action VARCHAR(64) NOT NULL,
	details TEXT NOT NULL,
	created_at DATETIME(6) NOT NULL
)`

// AuditEntry is one administrative action worth keeping a trail of.
type AuditEntry struct {
	ActorID string
	Action  string
	Details string
	At      time.Time
}

// AuditClient appends admin activity rows to MySQL
type AuditClient struct {
	db *sql.DB
}

// NewAuditClient opens the database and creates the activity table if missing.
func NewAuditClient(ctx context.Context, dsn string) (*AuditClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ac := &AuditClient{db: db}
	if err := ac.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ac, nil
}

func (ac *AuditClient) ensureSchema(ctx context.Context) error {
	if _, err := ac.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("failed to create admin_activity table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (ac *AuditClient) Close() error {
	return ac.db.Close()
}

// Record inserts one entry
func (ac *AuditClient) Record(ctx context.Context, entry AuditEntry) error {
	ctx, span := tracer.Start(ctx, "mysql.record_audit",
		trace.WithAttributes(
			attribute.String("actor_id", entry.ActorID),
			attribute.String("action", entry.Action),
		),
	)
	defer span.End()

	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	query := `INSERT INTO admin_activity (actor_id, action, details, created_at) VALUES (?, ?, ?, ?)`
	if _, err := ac.db.ExecContext(ctx, query, entry.ActorID, entry.Action, entry.Details, entry.At.UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}
