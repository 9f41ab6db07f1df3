// Package dispatch converts extracted entries into telemetry records and
// hands them to the transport client. The dispatcher works one entry at
// a time; the publisher adapts it to the buffer's batch callback.
package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/copjon/slab-sinks/internal/constants"
	"github.com/copjon/slab-sinks/internal/entry"
	"github.com/copjon/slab-sinks/internal/metrics"
	"github.com/copjon/slab-sinks/internal/telemetry"
	"github.com/copjon/slab-sinks/internal/transform"
)

// Dispatcher turns one entry into exactly one telemetry record: an
// exception record when the payload carries one, an event record
// otherwise.
type Dispatcher struct {
	client    telemetry.Client
	extractor *transform.Extractor
	logger    *zap.Logger
	mets      *metrics.Metrics
}

// NewDispatcher creates a dispatcher. mets may be nil.
func NewDispatcher(client telemetry.Client, extractor *transform.Extractor, logger *zap.Logger, mets *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		client:    client,
		extractor: extractor,
		logger:    logger,
		mets:      mets,
	}
}

// Dispatch emits the telemetry record for one entry and reports whether
// emission succeeded. A nil entry is a no-op returning false. Failures
// are recovered locally: the entry's telemetry is lost, nothing
// propagates to the producer.
func (d *Dispatcher) Dispatch(ctx context.Context, e *entry.LogEntry) bool {
	if e == nil {
		return false
	}

	ex := d.extractor.Extract(e)

	var err error
	kind := constants.RecordKindEvent
	if ex.Exception != nil {
		kind = constants.RecordKindException
		err = d.client.TrackException(ctx, ex.Exception, transform.MapSeverity(e.Schema.Level), ex.Properties)
	} else {
		err = d.client.TrackEvent(ctx, e.Message, ex.Properties)
	}

	if err != nil {
		d.mets.IncPublishFailure()
		d.logger.Debug("Dispatch: record lost",
			zap.String("kind", kind),
			zap.Int("event_id", e.EventID),
			zap.Error(err))
		return false
	}

	d.mets.IncPublished(kind)
	return true
}
