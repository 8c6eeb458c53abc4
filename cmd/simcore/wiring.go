package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sawpanic/simcore/internal/config"
	"github.com/sawpanic/simcore/internal/data/cache"
	"github.com/sawpanic/simcore/internal/infra/breakers"
	"github.com/sawpanic/simcore/internal/infrastructure/db"
	"github.com/sawpanic/simcore/internal/persistence"
	"github.com/sawpanic/simcore/internal/telemetry"
)

// services are the long-lived collaborators shared by every subcommand
type services struct {
	telemetry *telemetry.Registry
	cache     *cache.ResultCache
	archive   *persistence.GuardedRepo
	health    persistence.RepositoryHealth
	durable   bool

	closers []func() error
}

// buildServices wires cache, archive and telemetry from cfg. Without a
// database the archive is an in-process repository scoped to this process.
func buildServices(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*services, error) {
	s := &services{telemetry: telemetry.NewRegistry()}

	store, err := s.buildCache(ctx, cfg.Cache)
	if err != nil {
		s.Close()
		return nil, err
	}
	if store != nil {
		s.cache = cache.NewResultCache(store, cfg.Cache.TTL)
	}

	mgr, err := db.NewManager(ctx, cfg.Database)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("archive: %w", err)
	}
	s.closers = append(s.closers, mgr.Close)

	var inner persistence.RunRepo = persistence.NewMemoryRunRepo()
	if mgr.IsEnabled() {
		inner = mgr.Runs()
		s.health = mgr.Health()
		s.durable = true
	}

	reg := s.telemetry
	s.archive = persistence.NewGuardedRepo(inner, persistence.GuardOptions{
		WritesPerSecond: cfg.Archive.WritesPerSecond,
		Burst:           cfg.Archive.Burst,
		Breaker: breakers.Settings{
			ConsecutiveFailures: cfg.Archive.ConsecutiveFailures,
			Timeout:             cfg.Archive.BreakerTimeout,
			OnStateChange: func(name, from, to string) {
				logger.Warn().Str("breaker", name).Str("from", from).Str("to", to).Msg("Archive breaker state change")
				reg.BreakerChanged(name, from, to)
			},
		},
	})

	logger.Debug().
		Str("cache", cfg.Cache.Backend).
		Bool("durable_archive", s.durable).
		Msg("Services ready")
	return s, nil
}

func (s *services) buildCache(ctx context.Context, cfg config.CacheSection) (cache.Store, error) {
	switch cfg.Backend {
	case config.CacheNone, "":
		return nil, nil
	case config.CacheMemory:
		ttl := cache.NewTTLCache(cfg.MaxEntries, cfg.CleanupInterval)
		s.closers = append(s.closers, func() error { ttl.Stop(); return nil })
		return ttl, nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		s.closers = append(s.closers, rc.Close)
		return rc, nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}

// Close releases collaborators in reverse construction order
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
