// Package worker consumes the ingestion and alarm topics: it persists
// accepted logs and fans matched alarms out to their delivery sinks.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/search"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
)

// AlarmPublisher is the slice of the producer the ingestor needs.
type AlarmPublisher interface {
	PublishAlarmEvent(event kafka.AlarmEvent) error
}

// Ingestor persists ingestion events into the document store and the
// search index.
type Ingestor struct {
	store  *store.Store
	index  *search.Index
	bus    AlarmPublisher
	logger logging.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(st *store.Store, idx *search.Index, bus AlarmPublisher, logger logging.Logger) *Ingestor {
	return &Ingestor{store: st, index: idx, bus: bus, logger: logger}
}

// HandleIngestion writes the log to both backends in parallel. A store
// failure is returned so the event is redelivered; the insert is keyed on
// the message ID, so the retry cannot duplicate. An index failure only
// degrades search and is logged instead.
func (w *Ingestor) HandleIngestion(ctx context.Context, event kafka.IngestionEvent) error {
	log := event.Log

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.store.CreateLog(gctx, &log)
	})
	g.Go(func() error {
		if err := w.index.IndexLog(gctx, &log); err != nil {
			w.logger.WithError(err).WithField("log_id", log.ID).
				Error("Failed to index log")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		w.logger.WithError(err).WithField("log_id", log.ID).
			Error("Failed to persist log")
		return err
	}

	if err := w.bus.PublishAlarmEvent(kafka.AlarmEvent{LogID: log.ID, Log: log}); err != nil {
		// Redelivery replays the idempotent writes and retries the publish.
		w.logger.WithError(err).WithField("log_id", log.ID).
			Error("Failed to publish alarm event")
		return err
	}
	return nil
}
