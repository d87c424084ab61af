package config

import "time"

// Config is the full process configuration, read from the environment.
type Config struct {
	Queue    QueueConfig
	Redis    RedisConfig
	Database DatabaseConfig
	SQS      SQSConfig
	Worker   WorkerConfig
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// QueueConfig selects the queue backend
type QueueConfig struct {
	Connection string `env:"QUEUE_CONNECTION" envDefault:"file"` // file, memory, redis, database, sqs
	Path       string `env:"QUEUE_PATH" envDefault:"storage/luggage"`
}

// RedisConfig holds configuration for Redis connection
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"luggage"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// DatabaseConfig holds configuration for SQL database connection
type DatabaseConfig struct {
	Connection  string `env:"DB_CONNECTION" envDefault:"mysql"` // mysql, pgsql, postgres
	Host        string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port        string `env:"DB_PORT" envDefault:"3306"`
	Database    string `env:"DB_DATABASE"`
	Username    string `env:"DB_USERNAME"`
	Password    string `env:"DB_PASSWORD"`
	Table       string `env:"DB_QUEUE_TABLE" envDefault:"jobs"`
	FailedTable string `env:"DB_FAILED_TABLE" envDefault:"failed_jobs"`

	// FailedLogTable enables the failed job log for non-database
	// connections when set.
	FailedLogTable string `env:"DB_FAILED_LOG_TABLE"`
}

// WorkerConfig holds the defaults for queue:work
type WorkerConfig struct {
	Queue         string        `env:"WORKER_QUEUE" envDefault:"default"`
	Sleep         time.Duration `env:"WORKER_SLEEP" envDefault:"1s"`
	StopWhenEmpty bool          `env:"WORKER_STOP_WHEN_EMPTY"`
	MemoryLimitMB int           `env:"WORKER_MEMORY_MB" envDefault:"0"`
	MaxAttempts   int           `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`
}
