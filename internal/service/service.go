// Package service orchestrates session lifecycles and outbound dispatch.
package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/engine"
	"github.com/xiaot623/gogo/gateway/internal/index"
	"github.com/xiaot623/gogo/gateway/internal/policy"
	"github.com/xiaot623/gogo/gateway/internal/registry"
)

// Broadcaster delivers events to realtime observers.
type Broadcaster interface {
	Publish(sessionID, event string, data interface{})
	PublishAll(event string, data interface{})
}

// Service owns the session registry. Every registry mutation goes through it
// and is followed by a persist and a publish.
type Service struct {
	config   *config.Config
	registry *registry.Registry
	index    index.Store
	bus      Broadcaster
	policy   *policy.Engine
	log      zerolog.Logger

	// persistMu covers snapshot and write so index writes never go backwards.
	persistMu sync.Mutex

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	// ctx bounds background engine starts; cancelled by Shutdown.
	ctx     context.Context
	cancel  context.CancelFunc
	starts  sync.WaitGroup
	cleanup sync.WaitGroup
	replies sync.WaitGroup
}

// New creates a Service. pol may be nil, in which case every dispatch is allowed.
func New(cfg *config.Config, factory engine.Factory, idx index.Store, bus Broadcaster, pol *policy.Engine, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config:   cfg,
		index:    idx,
		bus:      bus,
		policy:   pol,
		log:      logger.With().Str("component", "sessions").Logger(),
		limiters: make(map[string]*rate.Limiter),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.registry = registry.New(factory, func(h *registry.Handle) engine.Callbacks {
		return &sessionCallbacks{svc: s, handle: h}
	})
	return s
}

// Registry exposes the session registry for read access.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) sessionLog(sessionID string) *zerolog.Logger {
	l := s.log.With().Str("session_id", sessionID).Logger()
	return &l
}

// summaries returns the index entries of every session not being torn down.
func (s *Service) summaries() []domain.SessionSummary {
	sessions := s.registry.List()
	out := make([]domain.SessionSummary, 0, len(sessions))
	for _, rec := range sessions {
		if rec.State == domain.SessionStateDestroyed {
			continue
		}
		out = append(out, rec.Summary())
	}
	return out
}

// persist rewrites the whole index from the current registry contents.
func (s *Service) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.index.Save(ctx, s.summaries())
}
