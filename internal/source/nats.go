// Package source implements the NATS intake: a durable JetStream
// consumer decodes wire-format log entries and drives the sink's
// observer contract (next/complete/error).
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/sink"
)

// Config holds ingest settings.
type Config struct {
	URL          string `yaml:"url"`
	Stream       string `yaml:"stream"`
	Subject      string `yaml:"subject"`
	ConsumerName string `yaml:"consumer_name"`
}

// DefaultConfig returns lean defaults.
func DefaultConfig() Config {
	return Config{
		URL:          constants.NATSDefaultURL,
		Stream:       constants.NATSEntryStream,
		Subject:      constants.NATSEntrySubject,
		ConsumerName: constants.NATSConsumerName,
	}
}

// wireEntry is the JSON wire format for one structured log entry.
type wireEntry struct {
	Message      string   `json:"msg"`
	EventID      int      `json:"id"`
	Timestamp    int64    `json:"ts"` // unix millis, UTC
	Keywords     int64    `json:"keywords"`
	ProviderID   string   `json:"provider_id"`
	ProviderName string   `json:"provider"`
	Level        uint8    `json:"level"`
	Opcode       uint8    `json:"opcode"`
	Task         uint16   `json:"task"`
	Version      int      `json:"version"`
	Fields       []string `json:"fields"`
	Payload      []any    `json:"payload"`
	ProcessID    int      `json:"pid"`
	ThreadID     int      `json:"tid"`
}

// Source feeds decoded entries into a sink observer.
type Source struct {
	cfg    Config
	obs    sink.Observer
	logger *zap.Logger
}

// New creates a source pushing into obs.
func New(cfg Config, obs sink.Observer, logger *zap.Logger) *Source {
	return &Source{cfg: cfg, obs: obs, logger: logger}
}

// Run consumes entries until ctx is cancelled, then signals graceful
// completion to the observer. A fatal consume error is signaled as an
// upstream fault instead.
func (s *Source) Run(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		s.obs.OnError(err)
		return err
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		s.obs.OnError(err)
		return err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      s.cfg.Stream,
		Subjects:  []string{s.cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		MaxBytes:  constants.NATSStreamMaxBytes,
		Discard:   jetstream.DiscardOld,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		s.obs.OnError(err)
		return err
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.ConsumerName,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		s.obs.OnError(err)
		return err
	}

	s.logger.Info("Source started",
		zap.String("stream", s.cfg.Stream),
		zap.String("subject", s.cfg.Subject))

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var w wireEntry
		if err := json.Unmarshal(msg.Data(), &w); err != nil {
			s.logger.Warn("Source: undecodable entry", zap.Error(err))
			msg.Nak()
			return
		}
		s.obs.OnNext(decode(&w))
		msg.Ack()
	})
	if err != nil {
		s.obs.OnError(err)
		return err
	}
	defer cc.Stop()

	<-ctx.Done()
	s.obs.OnCompleted()
	return nil
}

// decode maps the wire form onto the pipeline entry type. An unparsable
// provider id degrades to the zero UUID rather than rejecting the entry.
func decode(w *wireEntry) *entry.LogEntry {
	pid, _ := uuid.Parse(w.ProviderID)
	return &entry.LogEntry{
		Message:   w.Message,
		EventID:   w.EventID,
		Timestamp: time.UnixMilli(w.Timestamp).UTC(),
		Schema: entry.Schema{
			KeywordsMask: w.Keywords,
			ProviderID:   pid,
			ProviderName: w.ProviderName,
			Level:        entry.Level(w.Level),
			Opcode:       w.Opcode,
			Task:         w.Task,
			Version:      w.Version,
			FieldNames:   w.Fields,
		},
		Payload:   w.Payload,
		ProcessID: w.ProcessID,
		ThreadID:  w.ThreadID,
	}
}
