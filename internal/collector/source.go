package collector

import (
	"context"

	"HouseholdTelemetryAPI/internal/models"
)

// Source bundles the three collectors behind the sampler's MetricsSource.
type Source struct {
	System      *SystemCollector
	Application *RequestTracker
	Database    *DatabaseCollector
}

func NewSource(system *SystemCollector, app *RequestTracker, db *DatabaseCollector) *Source {
	if system == nil {
		system = NewSystemCollector(nil)
	}
	if app == nil {
		app = NewRequestTracker(0)
	}
	if db == nil {
		db = NewDatabaseCollector(nil, nil)
	}
	return &Source{System: system, Application: app, Database: db}
}

func (s *Source) SampleSystem(ctx context.Context) (*models.SystemMetrics, error) {
	return s.System.Collect(ctx)
}

func (s *Source) SampleApplication(ctx context.Context) (*models.ApplicationMetrics, error) {
	return s.Application.Collect(ctx)
}

func (s *Source) SampleDatabase(ctx context.Context) (*models.DatabaseMetrics, error) {
	return s.Database.Collect(ctx)
}
