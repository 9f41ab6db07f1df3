package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/telemetry"
)

// LiveTee decorates a transport client so every record is additionally
// published on the Redis live channel for websocket tailing. The tee is
// best-effort: a Redis failure never fails the record.
type LiveTee struct {
	inner    telemetry.Client
	redis    *Redis
	channel  string
	instance string
	logger   *zap.Logger
}

var _ telemetry.Client = (*LiveTee)(nil)

// NewLiveTee wraps inner with live publishing on the given channel.
func NewLiveTee(inner telemetry.Client, r *Redis, channel, instance string, logger *zap.Logger) *LiveTee {
	if channel == "" {
		channel = constants.RedisLiveChannel
	}
	return &LiveTee{
		inner:    inner,
		redis:    r,
		channel:  channel,
		instance: instance,
		logger:   logger,
	}
}

// TrackEvent forwards to the inner client and mirrors the record live.
func (t *LiveTee) TrackEvent(ctx context.Context, message string, properties map[string]string) error {
	err := t.inner.TrackEvent(ctx, message, properties)
	t.mirror(ctx, telemetry.Record{
		Timestamp:  time.Now().UTC(),
		Instance:   t.instance,
		Kind:       constants.RecordKindEvent,
		Message:    message,
		Properties: properties,
	})
	return err
}

// TrackException forwards to the inner client and mirrors the record live.
func (t *LiveTee) TrackException(ctx context.Context, err error, severity telemetry.Severity, properties map[string]string) error {
	terr := t.inner.TrackException(ctx, err, severity, properties)
	t.mirror(ctx, telemetry.Record{
		Timestamp:  time.Now().UTC(),
		Instance:   t.instance,
		Kind:       constants.RecordKindException,
		Message:    err.Error(),
		Severity:   severity.String(),
		Properties: properties,
	})
	return terr
}

// Flush delegates to the inner client when it batches.
func (t *LiveTee) Flush(ctx context.Context) error {
	if f, ok := t.inner.(telemetry.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (t *LiveTee) mirror(ctx context.Context, rec telemetry.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := t.redis.Publish(ctx, t.channel, data); err != nil {
		t.logger.Debug("LiveTee: publish failed", zap.Error(err))
	}
}
