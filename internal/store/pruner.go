package store

import (
	"context"
	"log/slog"
	"time"
)

// Expirer is a store that can discard workflows past their TTL in bulk. The
// memory backend evicts on its own; the SQLite backend needs the sweep.
type Expirer interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// Pruner periodically sweeps expired workflow rows so the table stays
// bounded. Reads already treat expired state as absent, so the sweep is
// purely housekeeping and safe to run at any cadence.
type Pruner struct {
	store    Expirer
	interval time.Duration
	logger   *slog.Logger
}

func NewPruner(store Expirer, interval time.Duration, logger *slog.Logger) *Pruner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{store: store, interval: interval, logger: logger}
}

// Start blocks until ctx is done, sweeping once per interval.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("workflow pruner started", slog.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := p.store.PruneExpired(ctx)
			if err != nil {
				p.logger.Error("pruning expired workflows failed", slog.String("error", err.Error()))
				continue
			}
			if pruned > 0 {
				p.logger.Info("expired workflows pruned", slog.Int64("count", pruned))
			}
		}
	}
}
