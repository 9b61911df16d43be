package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"HouseholdTelemetryAPI/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedQuery struct {
	query string
	err   error
}

type queryRecorder struct {
	mu      sync.Mutex
	queries []recordedQuery
}

func (r *queryRecorder) ObserveQuery(query string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, recordedQuery{query: query, err: err})
}

func setupMockDB(t *testing.T) (*Database, sqlmock.Sqlmock, *queryRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &queryRecorder{}
	cfg := &config.DatabaseConfig{SlowQueryThreshold: time.Second}
	return Wrap(db, cfg, rec, nil), mock, rec
}

func TestHealth_Success(t *testing.T) {
	d, mock, rec := setupMockDB(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	require.NoError(t, d.Health(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, rec.queries, 1)
	assert.Equal(t, "SELECT 1", rec.queries[0].query)
}

func TestHealth_PingFails(t *testing.T) {
	d, mock, rec := setupMockDB(t)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err := d.Health(context.Background())
	assert.ErrorContains(t, err, "database health check failed")
	assert.Empty(t, rec.queries)
}

func TestHealth_QueryFails(t *testing.T) {
	d, mock, rec := setupMockDB(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read only"))

	err := d.Health(context.Background())
	assert.ErrorContains(t, err, "database query check failed")
	require.Len(t, rec.queries, 1)
	assert.Error(t, rec.queries[0].err)
}

func TestExecAndQueryAreObserved(t *testing.T) {
	d, mock, rec := setupMockDB(t)

	mock.ExpectExec("DELETE FROM readings").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("SELECT id FROM readings").
		WillDelayFor(20 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	res, err := d.ExecContext(context.Background(), "DELETE FROM readings WHERE ts < $1", time.Now())
	require.NoError(t, err)
	affected, _ := res.RowsAffected()
	assert.Equal(t, int64(3), affected)

	rows, err := d.QueryContext(context.Background(), "SELECT id FROM readings")
	require.NoError(t, err)
	rows.Close()

	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, rec.queries, 2)
	assert.Equal(t, "SELECT id FROM readings", rec.queries[1].query)
}

func TestStatsReflectsPool(t *testing.T) {
	d, _, _ := setupMockDB(t)
	d.DB.SetMaxOpenConns(7)
	assert.Equal(t, 7, d.Stats().MaxOpenConnections)
}
