package worker

// replay_cron.go
// Background goroutine that periodically moves failed invoice jobs from the
// DLQ back onto the queue, skipping ticks while the issuer's breaker is open.

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	replayTickInterval = 5 * time.Minute
	replayBatchSize    = 20
	replayMaxAttempts  = 5
)

// ReplayCronConfig holds all dependencies for the replay goroutine.
type ReplayCronConfig struct {
	RDB *redis.Client
	// BreakerState reports the issuer circuit breaker ("closed", "open", ...).
	BreakerState func() string
	Interval     time.Duration
}

// RunReplayCron ticks until ctx is done.
func RunReplayCron(ctx context.Context, cfg ReplayCronConfig) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = replayTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("replay_cron: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("replay_cron: shutting down")
			return
		case <-ticker.C:
			replayTick(ctx, cfg)
		}
	}
}

func replayTick(ctx context.Context, cfg ReplayCronConfig) {
	// Don't hammer an issuer that is known to be down.
	if cfg.BreakerState != nil && cfg.BreakerState() == "open" {
		log.Debug().Msg("replay_cron: circuit breaker is open, skipping tick")
		return
	}
	n, err := ReplayDLQ(ctx, cfg.RDB, QueueInvoice, replayBatchSize, replayMaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("replay_cron: replay failed")
		return
	}
	if n > 0 {
		log.Info().Int("replayed", n).Msg("replay_cron: invoice jobs re-queued")
	}
}
