// Package jobs runs the background garbage collector: one ticker loop that
// sweeps every expirable aggregate. Sweeps are idempotent, so overlapping
// instances across processes only cost duplicate no-op deletes.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/veridianlabs/veridian/internal/oauth"
	"github.com/veridianlabs/veridian/internal/storage"
)

const defaultInterval = 60 * time.Second

// GC owns the sweep loop.
type GC struct {
	stores    *storage.Stores
	blacklist *oauth.Blacklist
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

func NewGC(stores *storage.Stores, blacklist *oauth.Blacklist, logger *slog.Logger) *GC {
	return &GC{
		stores:    stores,
		blacklist: blacklist,
		logger:    logger,
		interval:  defaultInterval,
		now:       time.Now,
	}
}

// Run blocks until the context is canceled, sweeping once per interval.
func (g *GC) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

// Sweep deletes everything past its expiry. Each store failure is logged and
// the sweep moves on; a broken table must not block the others.
func (g *GC) Sweep(ctx context.Context) {
	now := g.now()
	total := 0

	sweeps := []struct {
		name string
		fn   func(context.Context, time.Time) (int, error)
	}{
		{"refresh_tokens", g.stores.RefreshTokens.DeleteExpired},
		{"authorization_codes", g.stores.AuthCodes.DeleteExpired},
		{"device_codes", g.stores.DeviceCodes.DeleteExpired},
		{"pending_actions", g.stores.PendingActions.DeleteExpired},
		{"login_sessions", g.stores.LoginSessions.DeleteExpired},
		{"sessions", g.stores.Sessions.DeleteExpired},
	}
	for _, sweep := range sweeps {
		n, err := sweep.fn(ctx, now)
		if err != nil {
			g.logger.Error("gc sweep failed", "table", sweep.name, "error", err)
			continue
		}
		total += n
	}

	total += g.blacklist.Sweep(now)

	if total > 0 {
		g.logger.Info("gc sweep completed", "removed", total)
	}
}
