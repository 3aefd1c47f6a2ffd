// Package handlers owns the HTTP surface: producer ingestion and the
// operator query, purge, quota, and project management endpoints.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/billing"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/constraints"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/search"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/cache"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

const (
	apiKeyCacheTTL = 5 * time.Minute
	usageCacheTTL  = 10 * time.Minute
)

// EventPublisher is the slice of the Kafka producer the controller needs.
type EventPublisher interface {
	PublishIngestionEvent(event kafka.IngestionEvent) error
}

// Metrics holds the custom counters the handlers maintain.
type Metrics struct {
	IngestDecisions *prometheus.CounterVec // labeled by outcome
}

func (m *Metrics) countIngest(outcome string) {
	if m != nil && m.IngestDecisions != nil {
		m.IngestDecisions.WithLabelValues(outcome).Inc()
	}
}

// Services is the composition root's wiring of stores, index, bus, and
// quota machinery, injected into every handler.
type Services struct {
	Store     *store.Store
	Index     *search.Index
	Bus       EventPublisher
	Quota     *billing.QuotaCounter
	Notifier  *billing.Notifier
	Evaluator *constraints.Evaluator
	Logger    logging.Logger
	Metrics   *Metrics

	apiKeyCache *cache.Cache
	usageCache  *cache.Cache
}

// NewServices wires the handler dependencies and their caches.
func NewServices(st *store.Store, idx *search.Index, bus EventPublisher,
	quota *billing.QuotaCounter, notifier *billing.Notifier,
	logger logging.Logger, metrics *Metrics) *Services {
	return &Services{
		Store:     st,
		Index:     idx,
		Bus:       bus,
		Quota:     quota,
		Notifier:  notifier,
		Evaluator: constraints.NewEvaluator(),
		Logger:    logger,
		Metrics:   metrics,
		apiKeyCache: cache.New(cache.Options{
			TTL:        apiKeyCacheTTL,
			MaxEntries: 4096,
		}),
		usageCache: cache.New(cache.Options{
			TTL:        usageCacheTTL,
			MaxEntries: 4096,
		}),
	}
}

// resolveProjectByKey resolves the project owning an API key, cached for
// five minutes per literal key.
func (s *Services) resolveProjectByKey(ctx context.Context, key string) (*models.Project, error) {
	v, ok, err := s.apiKeyCache.Get(ctx, key, func(ctx context.Context, k string) (interface{}, bool, error) {
		p, err := s.Store.FindProjectByAPIKey(ctx, k)
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return v.(*models.Project), nil
}

// invalidateAPIKey drops a cached key resolution after a key mutation.
func (s *Services) invalidateAPIKey(key string) {
	s.apiKeyCache.Delete(key)
}

// usageMetadata loads the owner's user/enrollment/plan join, cached for
// ten minutes.
func (s *Services) usageMetadata(ctx context.Context, ownerID string) (*models.UsageMetadata, error) {
	v, ok, err := s.usageCache.Get(ctx, ownerID, func(ctx context.Context, id string) (interface{}, bool, error) {
		m, err := s.Store.UsageMetadata(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return m, true, nil
	})
	if err != nil || !ok {
		return nil, err
	}
	return v.(*models.UsageMetadata), nil
}

// updateProjectWithRetry runs an optimistic read-modify-write on a project,
// re-reading on version conflicts.
func (s *Services) updateProjectWithRetry(ctx context.Context, projectID string, mutate func(p *models.Project) error) (*models.Project, error) {
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.Store.FindProjectByProjectID(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if err := mutate(p); err != nil {
			return nil, err
		}
		err = s.Store.UpdateProjectMembership(ctx, p)
		if err == store.ErrVersionConflict {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("project %s: %w", projectID, store.ErrVersionConflict)
}
