package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelvide/luggage-go/pkg/config"
)

func TestDSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db",
		Port:     "5432",
		Database: "queue",
		Username: "app",
		Password: "secret",
	}

	tests := []struct {
		connection string
		driver     string
		dsn        string
	}{
		{"mysql", "mysql", "app:secret@tcp(db:5432)/queue?parseTime=true&loc=Local"},
		{"pgsql", "postgres", "host=db port=5432 user=app password=secret dbname=queue sslmode=disable"},
		{"postgres", "postgres", "host=db port=5432 user=app password=secret dbname=queue sslmode=disable"},
	}

	for _, tt := range tests {
		t.Run(tt.connection, func(t *testing.T) {
			c := cfg
			c.Connection = tt.connection
			driver, dsn, err := DSN(c)
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestConnect_UnsupportedConnection(t *testing.T) {
	_, err := NewFactory().Connect(context.Background(), config.DatabaseConfig{Connection: "sqlite"})
	assert.EqualError(t, err, "unsupported database connection: sqlite")
}
