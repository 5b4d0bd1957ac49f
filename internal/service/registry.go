package service

import (
	"context"
	"errors"
	"fmt"

	pwotel "github.com/Strob0t/patternwatch/internal/adapter/otel"
	"github.com/Strob0t/patternwatch/internal/domain"
	"github.com/Strob0t/patternwatch/internal/domain/session"
	"github.com/Strob0t/patternwatch/internal/port/agentstream"
	"github.com/Strob0t/patternwatch/internal/port/broadcast"
)

// Registry holds one Driver per known pattern.
type Registry struct {
	drivers map[session.Pattern]*Driver
}

// NewRegistry creates a driver for every pattern in session.Patterns.
func NewRegistry(transport agentstream.Transport, metrics *pwotel.Metrics, opts DriverOptions) *Registry {
	r := &Registry{drivers: make(map[session.Pattern]*Driver, len(session.Patterns))}
	for _, p := range session.Patterns {
		r.drivers[p] = NewDriver(p, transport, metrics, opts)
	}
	return r
}

// Driver returns the driver of pattern or domain.ErrNotFound.
func (r *Registry) Driver(pattern session.Pattern) (*Driver, error) {
	d, ok := r.drivers[pattern]
	if !ok {
		return nil, fmt.Errorf("pattern %q: %w", pattern, domain.ErrNotFound)
	}
	return d, nil
}

// Patterns lists the patterns in display order.
func (r *Registry) Patterns() []session.Pattern {
	return append([]session.Pattern(nil), session.Patterns...)
}

// Subscribe registers obs on every driver.
func (r *Registry) Subscribe(obs broadcast.Observer) func() {
	cancels := make([]func(), 0, len(r.drivers))
	for _, p := range session.Patterns {
		cancels = append(cancels, r.drivers[p].Subscribe(obs))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Shutdown aborts every running session and waits for the readers to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range session.Patterns {
		d := r.drivers[p]
		d.Abort()
		if err := d.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
