package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const reaperBackoff = 10 * time.Second

// Reaper evicts sessions past the maximum age through the same
// teardown path as an explicit close. It runs for the lifetime of the
// process; a bad iteration is logged and the loop continues.
type Reaper struct {
	registry *Registry
	interval time.Duration
	maxAge   time.Duration
	logger   *log.Logger
}

func NewReaper(registry *Registry, interval, maxAge time.Duration, logger *log.Logger) *Reaper {
	return &Reaper{
		registry: registry,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, sweeping on every tick.
func (p *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reaper started", "interval", p.interval, "max_age", p.maxAge)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if ok := p.sweep(ctx); !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reaperBackoff):
				}
			}
		}
	}
}

// sweep closes every session older than the ceiling. One session's
// teardown failure must not keep the rest from being reaped.
func (p *Reaper) sweep(ctx context.Context) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("reaper sweep failed", "panic", rec)
			ok = false
		}
	}()

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	for _, info := range p.registry.List() {
		age := now - info.CreatedAt
		if age <= p.maxAge.Seconds() {
			continue
		}
		if p.registry.Expire(ctx, info.SessionID) {
			p.logger.Info("session expired", "session", info.SessionID, "age_seconds", int(age))
		}
	}
	return true
}
