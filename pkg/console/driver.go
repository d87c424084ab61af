package console

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pixelvide/luggage-go/pkg/config"
	"github.com/pixelvide/luggage-go/pkg/database"
	dbdriver "github.com/pixelvide/luggage-go/pkg/driver/database"
	"github.com/pixelvide/luggage-go/pkg/driver/file"
	"github.com/pixelvide/luggage-go/pkg/driver/memory"
	"github.com/pixelvide/luggage-go/pkg/driver/redis"
	sqsdriver "github.com/pixelvide/luggage-go/pkg/driver/sqs"
	"github.com/pixelvide/luggage-go/pkg/queue"
)

var (
	globalDriver         queue.Driver
	globalFailedProvider queue.FailedJobProvider
	globalFactory        queue.Factory
)

// SetDriver sets the queue driver used by every queue command instead of
// the one selected by QUEUE_CONNECTION.
func SetDriver(driver queue.Driver) {
	globalDriver = driver
}

// SetFailedJobProvider sets the failed job provider for the worker command
func SetFailedJobProvider(provider queue.FailedJobProvider) {
	globalFailedProvider = provider
}

// SetFactory sets the job factory for the worker command. It defaults to
// queue.DefaultRegistry.
func SetFactory(factory queue.Factory) {
	globalFactory = factory
}

// connection is an opened queue backend.
type connection struct {
	name   string
	driver queue.Driver
	failed queue.FailedJobProvider
	db     *sql.DB
}

func (c *connection) Close() {
	if c.db != nil {
		c.db.Close()
	}
}

// deadLetterLister is implemented by drivers that can list their dead letters.
type deadLetterLister interface {
	DeadLetters(ctx context.Context, queueName string) ([]*queue.DeadLetter, error)
}

// recoverer is implemented by drivers that can return stuck reservations.
type recoverer interface {
	Recover(ctx context.Context, queueName string, id string) error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// openConnection builds the driver named by cfg.Queue.Connection, unless one
// was injected with SetDriver.
func openConnection(ctx context.Context, cfg *config.Config) (*connection, error) {
	conn := &connection{name: cfg.Queue.Connection, failed: globalFailedProvider}
	if globalDriver != nil {
		conn.driver = globalDriver
		return conn, nil
	}

	logger := log.Logger.With().Str("connection", cfg.Queue.Connection).Logger()

	switch cfg.Queue.Connection {
	case "file":
		conn.driver = file.NewFileDriver(cfg.Queue.Path, file.WithLogger(logger))
	case "memory":
		conn.driver = memory.NewMemoryDriver()
	case "redis":
		conn.driver = redis.NewRedisDriver(cfg.Redis, redis.WithLogger(logger))
	case "database":
		db, err := database.NewFactory().Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		conn.db = db
		d := dbdriver.NewDatabaseDriver(cfg.Database, db, dbdriver.WithLogger(logger))
		if err := d.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate queue tables: %w", err)
		}
		conn.driver = d
	case "sqs":
		client, err := config.LoadSQSClient(ctx, cfg.SQS)
		if err != nil {
			return nil, err
		}
		conn.driver = sqsdriver.NewSQSDriver(client, cfg.SQS, sqsdriver.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported queue connection: %s", cfg.Queue.Connection)
	}

	if conn.failed == nil && cfg.Queue.Connection != "database" && cfg.Database.FailedLogTable != "" {
		if err := conn.openFailedLog(ctx, cfg.Database); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (c *connection) openFailedLog(ctx context.Context, cfg config.DatabaseConfig) error {
	db, err := database.NewFactory().Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect failed job log: %w", err)
	}
	c.db = db
	provider := dbdriver.NewDatabaseFailedJobProvider(db, cfg.FailedLogTable, cfg.Connection)
	if err := provider.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate failed job log: %w", err)
	}
	c.failed = provider
	return nil
}

func factory() queue.Factory {
	if globalFactory != nil {
		return globalFactory
	}
	return queue.DefaultRegistry
}
