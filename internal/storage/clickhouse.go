// Package storage provides the ClickHouse transport for the sink.
// Records accumulate in memory and are written with the native batch
// protocol once per publish cycle.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/telemetry"
)

// ClickHouseConfig holds connection settings.
type ClickHouseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// DefaultClickHouseConfig returns lean defaults.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		DSN:      constants.ClickHouseDefaultDSN,
		MaxConns: constants.ClickHouseMaxConns,
	}
}

// TelemetryRow is one row for batch insert.
type TelemetryRow struct {
	Timestamp  time.Time
	Instance   string
	Kind       string
	Message    string
	Severity   string
	Properties map[string]string
}

// ClickHouse is the batch-insert transport. It implements
// telemetry.Client and telemetry.Flusher.
type ClickHouse struct {
	conn   driver.Conn
	logger *zap.Logger

	mu      sync.Mutex
	pending []TelemetryRow
}

var (
	_ telemetry.Client  = (*ClickHouse)(nil)
	_ telemetry.Flusher = (*ClickHouse)(nil)
)

// NewClickHouse creates and pings a ClickHouse connection.
func NewClickHouse(cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouse, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	opts.MaxOpenConns = cfg.MaxConns
	opts.MaxIdleConns = cfg.MaxConns
	opts.ConnMaxLifetime = 10 * time.Minute

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	logger.Info("ClickHouse connected", zap.String("dsn", cfg.DSN))
	return &ClickHouse{conn: conn, logger: logger}, nil
}

// TrackEvent queues one event record for the next batch write.
func (ch *ClickHouse) TrackEvent(_ context.Context, message string, properties map[string]string) error {
	ch.append(TelemetryRow{
		Timestamp:  time.Now().UTC(),
		Instance:   properties[constants.KeyInstanceName],
		Kind:       constants.RecordKindEvent,
		Message:    message,
		Properties: properties,
	})
	return nil
}

// TrackException queues one exception record for the next batch write.
func (ch *ClickHouse) TrackException(_ context.Context, err error, severity telemetry.Severity, properties map[string]string) error {
	ch.append(TelemetryRow{
		Timestamp:  time.Now().UTC(),
		Instance:   properties[constants.KeyInstanceName],
		Kind:       constants.RecordKindException,
		Message:    err.Error(),
		Severity:   severity.String(),
		Properties: properties,
	})
	return nil
}

func (ch *ClickHouse) append(row TelemetryRow) {
	ch.mu.Lock()
	ch.pending = append(ch.pending, row)
	ch.mu.Unlock()
}

// Flush writes all queued rows in one native batch.
func (ch *ClickHouse) Flush(ctx context.Context) error {
	ch.mu.Lock()
	rows := ch.pending
	ch.pending = nil
	ch.mu.Unlock()

	return ch.InsertBatch(ctx, rows)
}

// InsertBatch inserts a batch of telemetry rows.
// Uses the native batch protocol for maximum throughput.
func (ch *ClickHouse) InsertBatch(ctx context.Context, rows []TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := ch.conn.PrepareBatch(ctx,
		"INSERT INTO "+constants.ClickHouseTable+" (timestamp, instance, kind, message, severity, properties)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp,
			r.Instance,
			r.Kind,
			r.Message,
			r.Severity,
			r.Properties,
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	ch.logger.Debug("Batch inserted", zap.Int("rows", len(rows)))
	return nil
}

// Close closes the ClickHouse connection.
func (ch *ClickHouse) Close() error {
	return ch.conn.Close()
}

// Query executes a query and returns rows. Used by the API layer.
func (ch *ClickHouse) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return ch.conn.Query(ctx, query, args...)
}

// QueryRow executes a query returning a single row.
func (ch *ClickHouse) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return ch.conn.QueryRow(ctx, query, args...)
}
