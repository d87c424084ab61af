package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelvide/luggage-go/pkg/config"
	"github.com/pixelvide/luggage-go/pkg/queue"
)

// reserveBatch bounds how many candidates one Reserve call inspects.
const reserveBatch = 16

// DatabaseDriver implements queue.Driver for SQL databases.
//
// A conditional UPDATE from state 'ready' to 'reserved' is the claim: the
// caller whose UPDATE affects exactly one row owns the envelope, others move
// on to the next candidate. No row locks are held between statements.
type DatabaseDriver struct {
	db          *sql.DB
	table       string
	failedTable string
	now         func() time.Time
	logger      zerolog.Logger

	mu     sync.RWMutex
	driver string // "mysql" or "postgres"
}

// Option configures a DatabaseDriver
type Option func(*DatabaseDriver)

// WithClock replaces time.Now for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(d *DatabaseDriver) {
		d.now = now
	}
}

// WithLogger sets the logger used to report quarantined rows.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *DatabaseDriver) {
		d.logger = logger
	}
}

// NewDatabaseDriver creates a new database driver
func NewDatabaseDriver(cfg config.DatabaseConfig, db *sql.DB, opts ...Option) *DatabaseDriver {
	tableName := cfg.Table
	if tableName == "" {
		tableName = "jobs"
	}
	failedTable := cfg.FailedTable
	if failedTable == "" {
		failedTable = "failed_jobs"
	}
	d := &DatabaseDriver{
		db:          db,
		table:       tableName,
		failedTable: failedTable,
		now:         time.Now,
		logger:      zerolog.Nop(),
		driver:      dialect(cfg.Connection),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func dialect(connection string) string {
	switch connection {
	case "postgres", "pgsql", "pq":
		return "postgres"
	default:
		return "mysql"
	}
}

// Migrate creates the queue tables if they do not exist.
func (d *DatabaseDriver) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			queue VARCHAR(255) NOT NULL,
			job_type VARCHAR(255) NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			available_at BIGINT NOT NULL,
			state VARCHAR(16) NOT NULL,
			reserved_at BIGINT NULL
		)`, d.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			queue VARCHAR(255) NOT NULL,
			payload TEXT NOT NULL,
			exception TEXT NOT NULL,
			failed_at TIMESTAMP NOT NULL
		)`, d.failedTable),
	}
	for _, stmt := range statements {
		if _, err := d.exec(ctx, d.db, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue inserts the envelope in ready state.
func (d *DatabaseDriver) Enqueue(ctx context.Context, queueName string, env *queue.Envelope) error {
	if queueName == "" {
		return fmt.Errorf("%w: empty name", queue.ErrInvalidQueueName)
	}
	payload, err := json.Marshal(env.Record().Payload)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, queue, job_type, payload, attempts, max_attempts, available_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'ready')`, d.table)

	_, err = d.exec(ctx, d.db, query, env.ID, queueName, env.JobType, string(payload),
		env.Attempts, env.MaxAttempts, env.AvailableAtUnix())
	return err
}

// Reserve claims the first eligible ready row in id order.
func (d *DatabaseDriver) Reserve(ctx context.Context, queueName string) (*queue.Envelope, error) {
	if queueName == "" {
		return nil, fmt.Errorf("%w: empty name", queue.ErrInvalidQueueName)
	}
	now := d.now().Unix()

	ids, err := d.candidates(ctx, queueName, now)
	if err != nil {
		return nil, err
	}

	claim := fmt.Sprintf(`UPDATE %s SET state = 'reserved', reserved_at = ? WHERE id = ? AND state = 'ready'`, d.table)
	for _, id := range ids {
		res, err := d.exec(ctx, d.db, claim, now, id)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n != 1 {
			// Another worker won this one.
			continue
		}

		env, err := d.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}
		return env, nil
	}
	return nil, nil
}

func (d *DatabaseDriver) candidates(ctx context.Context, queueName string, now int64) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE queue = ? AND state = 'ready' AND available_at <= ?
		ORDER BY id ASC
		LIMIT %d`, d.table, reserveBatch)

	rows, err := d.query(ctx, query, queueName, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// load reads a claimed row. Rows with an unreadable payload are marked
// 'corrupt' and reported as (nil, nil).
func (d *DatabaseDriver) load(ctx context.Context, id string) (*queue.Envelope, error) {
	query := fmt.Sprintf(`SELECT id, job_type, payload, attempts, max_attempts, available_at FROM %s WHERE id = ?`, d.table)

	var (
		rec     queue.Record
		payload string
	)
	err := d.db.QueryRowContext(ctx, d.rebind(query), id).
		Scan(&rec.ID, &rec.JobType, &payload, &rec.Attempts, &rec.MaxAttempts, &rec.AvailableAt)
	if err != nil {
		return nil, err
	}

	rec.Payload, err = queue.DecodePayload([]byte(payload))
	if err != nil {
		d.logger.Warn().Err(err).Str("job_id", id).Msg("Quarantined corrupt envelope")
		mark := fmt.Sprintf(`UPDATE %s SET state = 'corrupt' WHERE id = ?`, d.table)
		if _, err := d.exec(ctx, d.db, mark, id); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return rec.Envelope(), nil
}

// Ack deletes the row.
func (d *DatabaseDriver) Ack(ctx context.Context, queueName string, env *queue.Envelope) error {
	_, err := d.exec(ctx, d.db, fmt.Sprintf("DELETE FROM %s WHERE id = ?", d.table), env.ID)
	return err
}

// Release writes the envelope's current fields back in ready state. If no
// row was reserved it inserts a fresh ready row.
func (d *DatabaseDriver) Release(ctx context.Context, queueName string, env *queue.Envelope) error {
	payload, err := json.Marshal(env.Record().Payload)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s SET attempts = ?, max_attempts = ?, available_at = ?, payload = ?, state = 'ready', reserved_at = NULL
		WHERE id = ? AND state = 'reserved'`, d.table)

	res, err := d.exec(ctx, d.db, query, env.Attempts, env.MaxAttempts, env.AvailableAtUnix(), string(payload), env.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	return d.Enqueue(ctx, queueName, env)
}

// Fail records the dead letter in the failed jobs table and deletes the row.
func (d *DatabaseDriver) Fail(ctx context.Context, queueName string, env *queue.Envelope, cause error) error {
	dl := queue.NewDeadLetter(env, cause, d.now())
	record, err := dl.Encode()
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, queue, payload, exception, failed_at)
		VALUES (?, ?, ?, ?, ?)`, d.failedTable)
	if _, err := d.exec(ctx, tx, insert, env.ID, queueName, string(record), dl.Error.Message, dl.FailedAt); err != nil {
		return err
	}
	if _, err := d.exec(ctx, tx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", d.table), env.ID); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *DatabaseDriver) exec(ctx context.Context, ex execer, query string, args ...any) (sql.Result, error) {
	res, err := ex.ExecContext(ctx, d.rebind(query), args...)
	if err != nil {
		d.detect(err)
	}
	return res, err
}

func (d *DatabaseDriver) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		d.detect(err)
	}
	return rows, err
}

// detect switches to Postgres placeholders when a MySQL-style query was
// rejected by a Postgres server.
func (d *DatabaseDriver) detect(err error) {
	msg := err.Error()
	if !strings.HasPrefix(msg, "pq:") || !strings.Contains(msg, "syntax error") {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.driver != "postgres" {
		d.logger.Info().Msg("Detected Postgres server, switching placeholder style")
		d.driver = "postgres"
	}
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func (d *DatabaseDriver) rebind(query string) string {
	d.mu.RLock()
	driver := d.driver
	d.mu.RUnlock()
	if driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
