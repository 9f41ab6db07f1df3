// Package transport provides the NATS JetStream transport for the sink.
// Records are JSON-encoded onto a stream so downstream consumers can fan
// them out without coupling to the pipeline.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/telemetry"
)

// NATSConfig holds NATS transport settings.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

// DefaultNATSConfig returns a lean default for small instances.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:     constants.NATSDefaultURL,
		Stream:  constants.NATSRecordStream,
		Subject: constants.NATSRecordSubject,
	}
}

// NATS publishes telemetry records to a JetStream stream. It implements
// telemetry.Client and telemetry.Flusher.
type NATS struct {
	cfg      NATSConfig
	instance string
	logger   *zap.Logger
	nc       *nats.Conn
	js       jetstream.JetStream
}

var (
	_ telemetry.Client  = (*NATS)(nil)
	_ telemetry.Flusher = (*NATS)(nil)
)

// NewNATS connects and ensures the record stream exists.
func NewNATS(ctx context.Context, cfg NATSConfig, instance string, logger *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		MaxBytes:  constants.NATSStreamMaxBytes,
		Discard:   jetstream.DiscardOld,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("NATS transport connected",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject))

	return &NATS{cfg: cfg, instance: instance, logger: logger, nc: nc, js: js}, nil
}

// TrackEvent publishes one event record.
func (t *NATS) TrackEvent(_ context.Context, message string, properties map[string]string) error {
	return t.publish(telemetry.Record{
		Timestamp:  time.Now().UTC(),
		Instance:   t.instance,
		Kind:       constants.RecordKindEvent,
		Message:    message,
		Properties: properties,
	})
}

// TrackException publishes one exception record.
func (t *NATS) TrackException(_ context.Context, err error, severity telemetry.Severity, properties map[string]string) error {
	return t.publish(telemetry.Record{
		Timestamp:  time.Now().UTC(),
		Instance:   t.instance,
		Kind:       constants.RecordKindException,
		Message:    err.Error(),
		Severity:   severity.String(),
		Properties: properties,
	})
}

func (t *NATS) publish(rec telemetry.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.nc.Publish(t.cfg.Subject, data)
}

// Flush forces buffered publishes onto the wire once per batch.
func (t *NATS) Flush(ctx context.Context) error {
	return t.nc.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (t *NATS) Close() error {
	return t.nc.Drain()
}
