package relayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/rs/zerolog"
)

// JobRunner drains the job queue with a handler
type JobRunner interface {
	Run(ctx context.Context, handler queue.Handler) error
}

// ChainProber reports the health of the destination clients
type ChainProber interface {
	Probe(ctx context.Context) []blockchain.ChainHealth
}

// StatsSource reports job queue depth
type StatsSource interface {
	GetStats() (*queue.QueueStats, error)
}

// Relayer manages the settlement workers
type Relayer struct {
	queue     JobRunner
	processor *Processor
	prober    ChainProber
	stats     StatsSource
	logger    zerolog.Logger
	workers   int
	interval  time.Duration
	wg        sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once

	mu     sync.RWMutex
	health []blockchain.ChainHealth
}

// NewRelayer creates a new relayer. prober and stats may be nil.
func NewRelayer(
	q JobRunner,
	processor *Processor,
	prober ChainProber,
	stats StatsSource,
	workers int,
	logger zerolog.Logger,
) *Relayer {
	if workers <= 0 {
		workers = 1
	}

	return &Relayer{
		queue:     q,
		processor: processor,
		prober:    prober,
		stats:     stats,
		logger:    logger.With().Str("component", "relayer").Logger(),
		workers:   workers,
		interval:  30 * time.Second,
		stopChan:  make(chan struct{}),
	}
}

// Start starts the relayer workers
func (r *Relayer) Start(ctx context.Context) error {
	r.logger.Info().
		Int("workers", r.workers).
		Msg("Starting relayer workers")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-r.stopChan:
		case <-ctx.Done():
		}
		cancel()
	}()

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	if r.prober != nil {
		r.wg.Add(1)
		go r.healthCheck(ctx)
	}

	if r.stats != nil {
		r.wg.Add(1)
		go r.collectMetrics(ctx)
	}

	r.logger.Info().Msg("All relayer workers started")
	return nil
}

// Stop stops the relayer and waits for in-flight jobs
func (r *Relayer) Stop() error {
	r.stopOnce.Do(func() {
		r.logger.Info().Msg("Stopping relayer")
		close(r.stopChan)
	})
	r.wg.Wait()
	r.logger.Info().Msg("Relayer stopped")
	return nil
}

// Health returns the latest chain probe results
func (r *Relayer) Health() []blockchain.ChainHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]blockchain.ChainHealth, len(r.health))
	copy(out, r.health)
	return out
}

// worker runs one queue consumer
func (r *Relayer) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	logger := r.logger.With().Int("worker_id", id).Logger()
	logger.Info().Msg("Worker started")

	monitoring.RelayerWorkersActive.Inc()
	defer monitoring.RelayerWorkersActive.Dec()

	err := r.queue.Run(ctx, r.processor.ProcessJob)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Queue subscription error")
	}

	logger.Info().Msg("Worker stopped")
}

// healthCheck periodically probes the destination chains
func (r *Relayer) healthCheck(ctx context.Context) {
	defer r.wg.Done()

	r.performHealthCheck(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.performHealthCheck(ctx)
		}
	}
}

func (r *Relayer) performHealthCheck(ctx context.Context) {
	results := r.prober.Probe(ctx)

	for _, h := range results {
		if !h.Healthy {
			r.logger.Warn().
				Str("chain", h.Name).
				Str("error", h.Error).
				Msg("Chain health check failed")
			continue
		}
		monitoring.UpdateChainBlockNumber(h.Name, h.Height)
		r.logger.Debug().
			Str("chain", h.Name).
			Uint64("block_number", h.Height).
			Msg("Chain health check")
	}

	r.mu.Lock()
	r.health = results
	r.mu.Unlock()
}

// collectMetrics periodically logs queue depth
func (r *Relayer) collectMetrics(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.stats.GetStats()
			if err != nil {
				r.logger.Warn().Err(err).Msg("Failed to get queue stats")
				continue
			}
			r.logger.Debug().
				Uint64("messages", stats.Messages).
				Int("consumers", stats.Consumers).
				Msg("Queue stats")
		}
	}
}
