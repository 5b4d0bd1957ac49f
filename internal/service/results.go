package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/patternwatch/internal/domain/results"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/port/cache"
)

// ResultsService renders the results report of a pattern's current
// session. Rendered reports are cached per session version, so a report
// is rebuilt only after the log changes.
type ResultsService struct {
	registry *Registry
	cache    cache.Cache
	ttl      time.Duration
	opts     results.Options
}

// NewResultsService creates a ResultsService. A nil cache disables caching.
func NewResultsService(registry *Registry, c cache.Cache, ttl time.Duration, opts results.Options) *ResultsService {
	return &ResultsService{registry: registry, cache: c, ttl: ttl, opts: opts}
}

// Build returns the report of the current session of pattern.
func (s *ResultsService) Build(pattern session.Pattern) (results.Report, session.Snapshot, error) {
	d, err := s.registry.Driver(pattern)
	if err != nil {
		return results.Report{}, session.Snapshot{}, err
	}
	snap, err := d.Snapshot()
	if err != nil {
		return results.Report{}, session.Snapshot{}, err
	}
	return results.Build(pattern, snap.Steps, s.opts), snap, nil
}

// ReportJSON returns the JSON encoded report, served from the cache when
// the session has not changed since it was last rendered.
func (s *ResultsService) ReportJSON(ctx context.Context, pattern session.Pattern) ([]byte, error) {
	d, err := s.registry.Driver(pattern)
	if err != nil {
		return nil, err
	}
	snap, err := d.Snapshot()
	if err != nil {
		return nil, err
	}

	key := reportKey(snap)
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "results cache get failed", "key", key, "error", err)
		} else if ok {
			return data, nil
		}
	}

	data, err := json.Marshal(results.Build(pattern, snap.Steps, s.opts))
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.WarnContext(ctx, "results cache set failed", "key", key, "error", err)
		}
	}
	return data, nil
}

func reportKey(snap session.Snapshot) string {
	return fmt.Sprintf("report:%s:%s:%d", snap.Pattern, snap.ID, snap.Version)
}
