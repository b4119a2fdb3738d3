package relayer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/history"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SignatureStore is the read-and-consume side of the signature store
type SignatureStore interface {
	Range(ctx context.Context, message string) ([]string, error)
	Delete(ctx context.Context, message string) error
}

// Journal persists settlement outcomes
type Journal interface {
	RecordSettlement(ctx context.Context, s *database.Settlement) error
}

// HistoryReporter forwards completed transfers to the history service
type HistoryReporter interface {
	StoreTransaction(ctx context.Context, tx *history.Transaction) error
}

// Processor settles queued jobs on their destination chain
type Processor struct {
	store     SignatureStore
	executors ExecutorSource
	journal   Journal
	history   HistoryReporter
	relayerID uuid.UUID
	logger    zerolog.Logger
}

// NewProcessor creates a new job processor. journal and reporter may be nil.
func NewProcessor(
	store SignatureStore,
	executors ExecutorSource,
	journal Journal,
	reporter HistoryReporter,
	relayerID uuid.UUID,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		store:     store,
		executors: executors,
		journal:   journal,
		history:   reporter,
		relayerID: relayerID,
		logger:    logger.With().Str("component", "processor").Logger(),
	}
}

// ProcessJob consumes the message's signatures and submits the settlement.
// Errors returned before the signatures are consumed are retried by the
// queue; once consumed, a failed settlement is journaled and not retried.
func (p *Processor) ProcessJob(ctx context.Context, jobID string, job *types.SettlementJob) error {
	logger := p.logger.With().
		Str("job_id", jobID).
		Str("message_id", job.MessageID).
		Str("direction", string(job.Direction)).
		Uint64("destination_chain_id", job.DestinationChainID).
		Logger()

	logger.Info().Msg("Processing settlement job")

	executor, err := p.executors.Executor(job.DestinationChainID)
	if err != nil {
		monitoring.ConfigErrors.WithLabelValues("network").Inc()
		return queue.Permanent(fmt.Errorf("no executor for chain %d: %w", job.DestinationChainID, err))
	}

	signatures, err := p.store.Range(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("failed to read signatures: %w", err)
	}

	if len(signatures) == 0 {
		logger.Warn().Msg("No signatures left for message, abandoning job")
		return nil
	}

	// consume before submitting so no other processor reuses the set
	if err := p.store.Delete(ctx, job.MessageID); err != nil {
		return fmt.Errorf("failed to consume signatures: %w", err)
	}

	startTime := time.Now()
	txHash, settleErr := executor.Settle(ctx, job, signatures)
	duration := time.Since(startTime)

	destination := strconv.FormatUint(job.DestinationChainID, 10)
	settlement := &database.Settlement{
		MessageID:          job.MessageID,
		JobID:              jobID,
		Direction:          string(job.Direction),
		OriginChainID:      job.OriginChainID,
		DestinationChainID: job.DestinationChainID,
		Recipient:          job.Recipient,
		Amount:             job.Amount,
		TxHash:             txHash,
		Signatures:         signatures,
		RelayerID:          p.relayerID,
	}

	if settleErr != nil {
		settleErr = fmt.Errorf("%w: %w", ErrSettlementFailed, settleErr)
		monitoring.RecordSettlement(destination, string(job.Direction), database.SettlementFailed, duration.Seconds())

		logger.Error().
			Err(settleErr).
			Str("tx_hash", txHash).
			Strs("signatures", signatures).
			Dur("duration", duration).
			Msg("Settlement failed, signatures were consumed")

		settlement.Status = database.SettlementFailed
		settlement.Error = settleErr.Error()
		p.record(ctx, settlement, logger)
		return nil
	}

	monitoring.RecordSettlement(destination, string(job.Direction), database.SettlementSucceeded, duration.Seconds())
	logger.Info().
		Str("tx_hash", txHash).
		Int("signatures", len(signatures)).
		Dur("duration", duration).
		Msg("Settlement submitted successfully")

	settlement.Status = database.SettlementSucceeded
	p.record(ctx, settlement, logger)
	return nil
}

func (p *Processor) record(ctx context.Context, s *database.Settlement, logger zerolog.Logger) {
	if p.journal == nil {
		return
	}
	if err := p.journal.RecordSettlement(ctx, s); err != nil {
		logger.Error().Err(err).Msg("Failed to journal settlement")
	}
}

// Hooks returns the queue lifecycle callbacks of the processor
func (p *Processor) Hooks() queue.Hooks {
	return queue.Hooks{
		OnActive:    p.onActive,
		OnCompleted: p.onCompleted,
		OnFailed:    p.onFailed,
	}
}

func (p *Processor) onActive(jobID string, job *types.SettlementJob) {
	p.logger.Debug().
		Str("job_id", jobID).
		Str("message_id", job.MessageID).
		Msg("Job active")
}

// onCompleted reports the transfer whatever the on-chain outcome was.
// A reporting failure is logged only.
func (p *Processor) onCompleted(jobID string, job *types.SettlementJob) {
	if p.history == nil {
		return
	}

	err := p.history.StoreTransaction(context.Background(), &history.Transaction{
		User:                    job.Recipient,
		OriginTokenAddress:      job.OriginTokenAddress,
		DestinationTokenAddress: job.DestinationTokenAddress,
		Amount:                  job.Amount,
		OriginChainID:           job.OriginChainID,
		DestinationChainID:      job.DestinationChainID,
	})
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_id", jobID).
			Str("message_id", job.MessageID).
			Msg("Failed to report transaction history")
	}
}

func (p *Processor) onFailed(jobID string, job *types.SettlementJob, err error) {
	event := p.logger.Error().
		Err(err).
		Str("job_id", jobID).
		Str("message_id", job.MessageID)

	var perm *queue.PermanentError
	if errors.As(err, &perm) {
		event.Msg("Job failed permanently")
		return
	}
	event.Msg("Job failed after all attempts")
}
