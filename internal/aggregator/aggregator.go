package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/normalize"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/rs/zerolog"
)

// Signer produces this relayer's attestation over a message
type Signer interface {
	SignMessage(message []byte) (string, error)
}

// SignatureStore is the shared per-message signature list
type SignatureStore interface {
	Append(ctx context.Context, message, signature string) (int64, error)
	Count(ctx context.Context, message string) (int64, error)
}

// Chains answers the on-chain questions the aggregator needs
type Chains interface {
	ChainType(chainID uint64) (types.ChainType, error)
	Threshold(ctx context.Context, chainID uint64) (uint64, error)
	MintDecimals(ctx context.Context, chainID uint64, mint string) (uint8, error)
}

// Enqueuer submits settlement jobs. It reports false for a duplicate ID.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.SettlementJob, jobID string) (bool, error)
}

// Result describes what handling one event did
type Result struct {
	MessageID  string
	JobID      string
	Signatures int64
	Threshold  uint64
	Enqueued   bool
}

// Aggregator signs observed events, collects signatures across relayers
// and enqueues a settlement once the destination threshold is met
type Aggregator struct {
	seed        uint32
	signer      Signer
	store       SignatureStore
	chains      Chains
	queue       Enqueuer
	concurrency int
	logger      zerolog.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewAggregator creates a new signature aggregator
func NewAggregator(
	seed uint32,
	signer Signer,
	store SignatureStore,
	chains Chains,
	queue Enqueuer,
	concurrency int,
	logger zerolog.Logger,
) *Aggregator {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Aggregator{
		seed:        seed,
		signer:      signer,
		store:       store,
		chains:      chains,
		queue:       queue,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "aggregator").Logger(),
		stopChan:    make(chan struct{}),
	}
}

// Start consumes events with a bounded number of workers until the
// channel closes, ctx is cancelled or Stop is called
func (a *Aggregator) Start(ctx context.Context, events <-chan types.BridgeEvent) {
	a.logger.Info().
		Int("concurrency", a.concurrency).
		Msg("Starting signature aggregator")

	for i := 0; i < a.concurrency; i++ {
		a.wg.Add(1)
		go a.worker(ctx, i, events)
	}
}

// Stop waits for in-flight events to finish
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.logger.Info().Msg("Stopping signature aggregator")
		close(a.stopChan)
	})
	a.wg.Wait()
}

func (a *Aggregator) worker(ctx context.Context, id int, events <-chan types.BridgeEvent) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := a.Handle(ctx, ev); err != nil {
				a.logger.Error().
					Err(err).
					Int("worker_id", id).
					Str("tx_hash", ev.TxHash).
					Uint64("origin_chain_id", ev.OriginChainID).
					Uint64("destination_chain_id", ev.DestinationChainID).
					Msg("Failed to aggregate event")
			}
		}
	}
}

// Handle runs the convergence step for one event: sign, append, compare
// the signature count with the live threshold and enqueue when it is met.
func (a *Aggregator) Handle(ctx context.Context, ev types.BridgeEvent) (*Result, error) {
	if ev.Amount == nil || ev.Amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount for %s", ev.TxHash)
	}

	message := normalize.Fingerprint(ev.TxHash, a.seed)
	result := &Result{MessageID: message}

	logger := a.logger.With().
		Str("message_id", message).
		Str("tx_hash", ev.TxHash).
		Str("direction", string(ev.Direction)).
		Uint64("origin_chain_id", ev.OriginChainID).
		Uint64("destination_chain_id", ev.DestinationChainID).
		Logger()

	if _, err := a.chains.ChainType(ev.DestinationChainID); err != nil {
		monitoring.ConfigErrors.WithLabelValues("network").Inc()
		return nil, err
	}

	// Solana destinations still verify EVM-style signatures
	signature, err := a.signer.SignMessage(normalize.MessageBytes(message))
	if err != nil {
		return nil, fmt.Errorf("failed to sign message %s: %w", message, err)
	}

	if _, err := a.store.Append(ctx, message, signature); err != nil {
		return nil, fmt.Errorf("failed to append signature for %s: %w", message, err)
	}
	monitoring.SignaturesAppended.WithLabelValues(fmt.Sprint(ev.DestinationChainID)).Inc()

	threshold, err := a.chains.Threshold(ctx, ev.DestinationChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold: %w", err)
	}
	result.Threshold = threshold

	count, err := a.store.Count(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("failed to count signatures for %s: %w", message, err)
	}
	result.Signatures = count

	if count < 0 || uint64(count) < threshold {
		logger.Info().
			Int64("signatures", count).
			Uint64("threshold", threshold).
			Msg("Signature appended, threshold not reached")
		return result, nil
	}

	amount, err := a.canonicalAmount(ctx, ev)
	if err != nil {
		return nil, err
	}

	job := &types.SettlementJob{
		MessageID:               message,
		Direction:               ev.Direction,
		Recipient:               ev.DestinationAddress,
		OriginTokenAddress:      ev.OriginToken,
		DestinationTokenAddress: ev.DestinationToken,
		Amount:                  amount.String(),
		DestinationChainID:      ev.DestinationChainID,
		OriginChainID:           ev.OriginChainID,
	}
	jobID := normalize.JobID(message, a.seed)
	result.JobID = jobID

	added, err := a.queue.Enqueue(ctx, job, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", jobID, err)
	}
	result.Enqueued = added

	logger.Info().
		Str("job_id", jobID).
		Int64("signatures", count).
		Uint64("threshold", threshold).
		Bool("added", added).
		Msg("Threshold reached, settlement job submitted")

	return result, nil
}

// canonicalAmount rescales Solana-origin amounts from mint decimals to 18
func (a *Aggregator) canonicalAmount(ctx context.Context, ev types.BridgeEvent) (*big.Int, error) {
	origin, err := a.chains.ChainType(ev.OriginChainID)
	if err != nil {
		monitoring.ConfigErrors.WithLabelValues("network").Inc()
		return nil, err
	}
	if origin != types.ChainTypeSolana {
		return ev.Amount, nil
	}

	decimals, err := a.chains.MintDecimals(ctx, ev.OriginChainID, ev.OriginToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read decimals of %s: %w", ev.OriginToken, err)
	}
	return normalize.ToCanonical(ev.Amount, decimals)
}
