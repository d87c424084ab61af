package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/pixelvide/luggage-go/pkg/config"
)

func TestReserve_PgSQLConnection(t *testing.T) {
	// Configure driver as pgsql (alias for postgres)
	driver, mock, now := newMockDriver(t, config.DatabaseConfig{Connection: "pgsql"})

	// We expect $1, $2 because rebind should have replaced ?
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM jobs WHERE queue = $1 AND state = 'ready' AND available_at <= $2")).
		WithArgs("default", now.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET state = 'reserved', reserved_at = $1 WHERE id = $2 AND state = 'ready'")).
		WithArgs(now.Unix(), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(envelopeColumns).AddRow("a", "Job", "{}", 0, 3, now.Unix()))

	env, err := driver.Reserve(context.Background(), "default")
	if err != nil {
		t.Errorf("Reserve failed: %v", err)
	}
	assert.NotNil(t, env)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReserve_PostgresAutoDetection(t *testing.T) {
	// Initial config is NOT postgres (default/empty)
	driver, mock, now := newMockDriver(t, config.DatabaseConfig{Table: "jobs"})

	// FIRST CALL: Fails with pq: syntax error
	mock.ExpectQuery(regexp.QuoteMeta("WHERE queue = ? AND")).
		WithArgs("default", now.Unix()).
		WillReturnError(errors.New("pq: syntax error at or near \"AND\""))

	_, err := driver.Reserve(context.Background(), "default")
	if err == nil {
		t.Fatal("Expected error on first reserve")
	}

	driver.mu.RLock()
	currentDriver := driver.driver
	driver.mu.RUnlock()
	if currentDriver != "postgres" {
		t.Errorf("Expected driver to switch to postgres, got %s", currentDriver)
	}

	// SECOND CALL: Should use $1 syntax
	mock.ExpectQuery(regexp.QuoteMeta("WHERE queue = $1 AND state = 'ready' AND available_at <= $2")).
		WithArgs("default", now.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	env, err := driver.Reserve(context.Background(), "default")
	assert.NoError(t, err)
	assert.Nil(t, env)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReserve_OtherErrorsKeepDialect(t *testing.T) {
	driver, mock, _ := newMockDriver(t, config.DatabaseConfig{Connection: "mysql"})

	mock.ExpectQuery("SELECT id FROM jobs").WillReturnError(errors.New("connection refused"))

	_, err := driver.Reserve(context.Background(), "default")
	assert.Error(t, err)
	assert.Equal(t, "mysql", driver.driver)
}

func TestRebind(t *testing.T) {
	driver, _, _ := newMockDriver(t, config.DatabaseConfig{Connection: "postgres"})
	assert.Equal(t, "a = $1 AND b = $2", driver.rebind("a = ? AND b = ?"))

	mysql, _, _ := newMockDriver(t, config.DatabaseConfig{Connection: "mysql"})
	assert.Equal(t, "a = ? AND b = ?", mysql.rebind("a = ? AND b = ?"))
}
