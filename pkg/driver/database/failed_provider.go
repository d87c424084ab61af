package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pixelvide/luggage-go/pkg/queue"
)

// DatabaseFailedJobProvider implements queue.FailedJobProvider using a SQL database
type DatabaseFailedJobProvider struct {
	db       *sql.DB
	table    string
	postgres bool
}

// NewDatabaseFailedJobProvider creates a new provider
func NewDatabaseFailedJobProvider(db *sql.DB, tableName string, connection string) *DatabaseFailedJobProvider {
	if tableName == "" {
		tableName = "failed_job_log"
	}
	return &DatabaseFailedJobProvider{
		db:       db,
		table:    tableName,
		postgres: dialect(connection) == "postgres",
	}
}

// Migrate creates the log table if it does not exist.
func (p *DatabaseFailedJobProvider) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		connection VARCHAR(64) NOT NULL,
		queue VARCHAR(255) NOT NULL,
		payload TEXT NOT NULL,
		exception TEXT NOT NULL,
		failed_at TIMESTAMP NOT NULL
	)`, p.table))
	return err
}

// Log records a dead-lettered envelope
func (p *DatabaseFailedJobProvider) Log(ctx context.Context, connection string, queueName string, record []byte, info queue.ErrorInfo) error {
	query := `INSERT INTO ` + p.table + ` (connection, queue, payload, exception, failed_at) VALUES (?, ?, ?, ?, ?)`
	if p.postgres {
		query = `INSERT INTO ` + p.table + ` (connection, queue, payload, exception, failed_at) VALUES ($1, $2, $3, $4, $5)`
	}

	exception := info.Type + ": " + info.Message
	_, err := p.db.ExecContext(ctx, query, connection, queueName, string(record), exception, time.Now())
	return err
}
