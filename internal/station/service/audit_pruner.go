package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/station/internal/station/store"
)

// AuditPruner periodically deletes closed access logs older than a
// retention period. A retention of 0 disables pruning.
type AuditPruner struct {
	sink      store.AuditSink
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	now       func() time.Time
}

type PrunerConfig struct {
	// RetentionDays is how many days of closed access logs to keep.
	// 0 keeps everything and the pruner does not start.
	RetentionDays int

	// IntervalHours defaults to 6.
	IntervalHours int
}

// NewAuditPruner creates a pruner but does not start it.
func NewAuditPruner(sink store.AuditSink, cfg PrunerConfig, logger zerolog.Logger) *AuditPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &AuditPruner{
		sink:      sink,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger.With().Str("component", "audit_pruner").Logger(),
		done:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start prunes once immediately, then on every interval until ctx is
// cancelled or Stop is called.
func (p *AuditPruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info().Msg("audit pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info().
		Int("retention_days", int(p.retention.Hours()/24)).
		Int("interval_hours", int(p.interval.Hours())).
		Msg("audit pruner started")
}

// Stop signals the pruner to exit and waits for it.
func (p *AuditPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *AuditPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneNow(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneNow(ctx)
		}
	}
}

// PruneNow runs one pass and returns the number of deleted rows.
func (p *AuditPruner) PruneNow(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.sink.PruneClosedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("audit prune failed")
		return 0
	}
	if deleted > 0 {
		p.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("audit prune")
	}
	return deleted
}
