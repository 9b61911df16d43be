// internal/database/database.go

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"HouseholdTelemetryAPI/internal/config"
	"HouseholdTelemetryAPI/internal/logger"

	_ "github.com/lib/pq"
)

// QueryObserver receives the duration and outcome of every tracked statement.
type QueryObserver interface {
	ObserveQuery(query string, d time.Duration, err error)
}

type Database struct {
	DB       *sql.DB
	cfg      *config.DatabaseConfig
	observer QueryObserver
	log      *logger.Logger
}

func New(cfg *config.DatabaseConfig, observer QueryObserver, log *logger.Logger) (*Database, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return Wrap(db, cfg, observer, log), nil
}

// Wrap adopts an already opened handle.
func Wrap(db *sql.DB, cfg *config.DatabaseConfig, observer QueryObserver, log *logger.Logger) *Database {
	if log == nil {
		log = logger.Nop()
	}
	return &Database{DB: db, cfg: cfg, observer: observer, log: log}
}

func (d *Database) Close() error {
	return d.DB.Close()
}

func (d *Database) observe(query string, start time.Time, err error) {
	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.ObserveQuery(query, elapsed, err)
	}
	if d.cfg != nil && d.cfg.SlowQueryThreshold > 0 && elapsed >= d.cfg.SlowQueryThreshold {
		d.log.Warn("Slow query (%dms): %s", elapsed.Milliseconds(), query)
	}
}

func (d *Database) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := d.DB.QueryContext(ctx, query, args...)
	d.observe(query, start, err)
	return rows, err
}

func (d *Database) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := d.DB.ExecContext(ctx, query, args...)
	d.observe(query, start, err)
	return res, err
}

// QueryRowScan runs a single-row query and scans it into dest, timing the
// round trip including the scan.
func (d *Database) QueryRowScan(ctx context.Context, query string, args []interface{}, dest ...interface{}) error {
	start := time.Now()
	err := d.DB.QueryRowContext(ctx, query, args...).Scan(dest...)
	d.observe(query, start, err)
	return err
}

func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := d.QueryRowScan(ctx, "SELECT 1", nil, &result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

func (d *Database) Stats() sql.DBStats {
	return d.DB.Stats()
}
