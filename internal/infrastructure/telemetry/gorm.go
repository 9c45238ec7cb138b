package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBConfig controls query tracing and query/pool metrics on a gorm.DB.
type DBConfig struct {
	Tracing            bool
	Metrics            bool
	LogFullSQL         bool // include bound variables in spans; dev only
	DBName             string
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

// DefaultDBConfig returns tracing off, metrics on, 200ms slow queries and 15s pool sampling.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Metrics:            true,
		DBName:             "postgresql",
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

func (c DBConfig) withDefaults() DBConfig {
	d := DefaultDBConfig()
	if c.DBName == "" {
		c.DBName = d.DBName
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = d.SlowQueryThreshold
	}
	if c.PoolStatsInterval <= 0 {
		c.PoolStatsInterval = d.PoolStatsInterval
	}
	return c
}

type queryStartKey struct{}

func markQueryStart(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tx.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func queryElapsed(ctx context.Context) (time.Duration, bool) {
	if ctx == nil {
		return 0, false
	}
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

type gormHook func(name string, fn func(*gorm.DB)) error

type gormProcessor struct {
	name   string
	verb   string // empty: sniffed from the rendered SQL
	before gormHook
	after  gormHook
}

func gormProcessors(db *gorm.DB) []gormProcessor {
	cb := db.Callback()
	return []gormProcessor{
		{"create", "INSERT",
			func(n string, f func(*gorm.DB)) error { return cb.Create().Before("gorm:create").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Create().After("gorm:create").Register(n, f) }},
		{"query", "SELECT",
			func(n string, f func(*gorm.DB)) error { return cb.Query().Before("gorm:query").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Query().After("gorm:query").Register(n, f) }},
		{"update", "UPDATE",
			func(n string, f func(*gorm.DB)) error { return cb.Update().Before("gorm:update").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Update().After("gorm:update").Register(n, f) }},
		{"delete", "DELETE",
			func(n string, f func(*gorm.DB)) error { return cb.Delete().Before("gorm:delete").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Delete().After("gorm:delete").Register(n, f) }},
		{"row", "",
			func(n string, f func(*gorm.DB)) error { return cb.Row().Before("gorm:row").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Row().After("gorm:row").Register(n, f) }},
		{"raw", "",
			func(n string, f func(*gorm.DB)) error { return cb.Raw().Before("gorm:raw").Register(n, f) },
			func(n string, f func(*gorm.DB)) error { return cb.Raw().After("gorm:raw").Register(n, f) }},
	}
}

// registerAround installs a start-time hook before and fn after every gorm processor.
func registerAround(db *gorm.DB, prefix string, fn func(tx *gorm.DB, verb string)) error {
	for _, p := range gormProcessors(db) {
		verb := p.verb
		if err := p.before(prefix+":before_"+p.name, markQueryStart); err != nil {
			return err
		}
		err := p.after(prefix+":after_"+p.name, func(tx *gorm.DB) {
			op := verb
			if op == "" {
				op = sqlVerb(tx.Statement.SQL.String())
			}
			fn(tx, op)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func sqlVerb(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}

// =============================================================================
// Tracing
// =============================================================================

// InstrumentTracing registers otelgorm on db and flags slow queries on the active span.
func InstrumentTracing(db *gorm.DB, cfg DBConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Tracing {
		logger.Debug("Database tracing disabled")
		return nil
	}
	cfg = cfg.withDefaults()

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	err := registerAround(db, "otel_slow_query", func(tx *gorm.DB, verb string) {
		elapsed, ok := queryElapsed(tx.Statement.Context)
		if !ok || elapsed < cfg.SlowQueryThreshold {
			return
		}
		span := trace.SpanFromContext(tx.Statement.Context)
		if !span.IsRecording() {
			return
		}
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.duration_ms", elapsed.Milliseconds()),
			AttrDBOperation.String(verb),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.String("db.table", tx.Statement.Table),
			attribute.Int64("threshold_ms", cfg.SlowQueryThreshold.Milliseconds()),
		))
	})
	if err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
	)
	return nil
}

// =============================================================================
// Metrics
// =============================================================================

// DBMetrics records query counts, latency, slow queries and pool usage.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queryTotal         *Counter
	queryDuration      *Histogram
	slowQueryTotal     *Counter

	config   DBConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDBMetrics creates the database instruments on meter.
func NewDBMetrics(meter metric.Meter, cfg DBConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &DBMetrics{config: cfg.withDefaults(), logger: logger, stopCh: make(chan struct{})}

	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Number of connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter, "db_pool_connections_max",
		"Maximum number of open connections", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Total number of database queries by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency in seconds",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Total number of queries slower than the configured threshold", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordQuery records one completed statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, verb, table string, d time.Duration) {
	verb = strings.ToUpper(verb)
	if verb == "" {
		verb = "UNKNOWN"
	}
	m.queryTotal.Inc(ctx, AttrDBOperation.String(verb))
	m.queryDuration.RecordDuration(ctx, d, AttrDBOperation.String(verb))
	if d > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// CollectPoolStats samples sql.DB.Stats once.
func (m *DBMetrics) CollectPoolStats(ctx context.Context) {
	if m.sqlDB == nil {
		return
	}
	stats := m.sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

func (m *DBMetrics) startPoolStats(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.CollectPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.CollectPoolStats(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends pool sampling. Safe to call more than once.
func (m *DBMetrics) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// InstrumentMetrics attaches query metrics to db and starts pool sampling.
// It returns nil when metrics are off or the meter provider is disabled.
func InstrumentMetrics(ctx context.Context, db *gorm.DB, mp *MeterProvider, cfg DBConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Metrics || mp == nil || !mp.IsEnabled() {
		logger.Debug("Database metrics disabled")
		return nil, nil
	}

	m, err := NewDBMetrics(mp.Meter("db.client"), cfg, logger)
	if err != nil {
		return nil, err
	}
	if m.sqlDB, err = db.DB(); err != nil {
		return nil, err
	}
	err = registerAround(db, "db_metrics", func(tx *gorm.DB, verb string) {
		elapsed, _ := queryElapsed(tx.Statement.Context)
		m.RecordQuery(tx.Statement.Context, verb, tx.Statement.Table, elapsed)
	})
	if err != nil {
		return nil, err
	}
	m.startPoolStats(ctx)

	logger.Info("Database metrics registered",
		zap.Duration("slow_query_threshold", m.config.SlowQueryThreshold),
		zap.Duration("pool_stats_interval", m.config.PoolStatsInterval),
	)
	return m, nil
}
