package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	EventsRecorded         metric.Int64Counter
	DuplicateEvents        metric.Int64Counter
	PersistenceErrors      metric.Int64Counter
	AggregateRepairs       metric.Int64Counter
	MigrationsTotal        metric.Int64Counter
	SearchContextLookups   metric.Int64Counter
	ItineraryAutoSaves     metric.Int64Counter
	BackendRequestSeconds  metric.Float64Histogram
	DbQueryDurationSeconds metric.Float64Histogram
	DbQueryErrorsTotal     metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the instruments once, from the global
// MeterProvider. Without a configured provider the instruments are no-ops.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("CityTailor")
		m := &AppMetrics{}

		m.EventsRecorded = int64Counter(meter, "activity_events_recorded_total", "Interaction events appended to a ledger", "{event}")
		m.DuplicateEvents = int64Counter(meter, "activity_events_duplicate_total", "Interaction events dropped because their id was already recorded", "{event}")
		m.PersistenceErrors = int64Counter(meter, "store_persistence_errors_total", "Failed local store reads and writes", "{error}")
		m.AggregateRepairs = int64Counter(meter, "activity_aggregate_repairs_total", "Aggregates replaced by a recomputation after drift", "{repair}")
		m.MigrationsTotal = int64Counter(meter, "identity_migrations_total", "Anonymous to account migrations by outcome", "{migration}")
		m.SearchContextLookups = int64Counter(meter, "search_context_lookups_total", "Search context lookups by result", "{lookup}")
		m.ItineraryAutoSaves = int64Counter(meter, "itinerary_autosaves_total", "Debounced itinerary saves by outcome", "{save}")
		m.DbQueryErrorsTotal = int64Counter(meter, "db_query_errors_total", "Total number of database query errors", "{error}")

		var err error
		m.BackendRequestSeconds, err = meter.Float64Histogram(
			"backend_request_duration_seconds",
			metric.WithDescription("Duration of recommendation backend calls in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create backend_request_duration_seconds: %v", err)
		}
		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		appMetrics = m
	})
}

func int64Counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		log.Fatalf("Metrics: Failed to create %s: %v", name, err)
	}
	return c
}

// Get returns the instruments, initializing them on first use.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
