package relayer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/history"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records the order of calls so tests can check that signatures
// are consumed before settlement
type fakeStore struct {
	mu       sync.Mutex
	lists    map[string][]string
	rangeErr error
	calls    *[]string
}

func (s *fakeStore) Range(ctx context.Context, message string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.calls = append(*s.calls, "range")
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	return append([]string(nil), s.lists[message]...), nil
}

func (s *fakeStore) Delete(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.calls = append(*s.calls, "delete")
	delete(s.lists, message)
	return nil
}

type fakeExecutor struct {
	calls      *[]string
	signatures []string
	txHash     string
	err        error
}

func (e *fakeExecutor) Settle(ctx context.Context, job *types.SettlementJob, signatures []string) (string, error) {
	*e.calls = append(*e.calls, "settle")
	e.signatures = signatures
	return e.txHash, e.err
}

type staticExecutors struct {
	executors map[uint64]Executor
}

func (s staticExecutors) Executor(chainID uint64) (Executor, error) {
	exec, ok := s.executors[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain id %d", types.ErrNetworkNotConfigured, chainID)
	}
	return exec, nil
}

type memJournal struct {
	rows []*database.Settlement
}

func (j *memJournal) RecordSettlement(ctx context.Context, s *database.Settlement) error {
	j.rows = append(j.rows, s)
	return nil
}

type fakeHistory struct {
	txs []*history.Transaction
	err error
}

func (h *fakeHistory) StoreTransaction(ctx context.Context, tx *history.Transaction) error {
	h.txs = append(h.txs, tx)
	return h.err
}

type fixture struct {
	calls    []string
	store    *fakeStore
	executor *fakeExecutor
	journal  *memJournal
	history  *fakeHistory
	proc     *Processor
}

func newFixture(signatures ...string) *fixture {
	f := &fixture{journal: &memJournal{}, history: &fakeHistory{}}
	f.store = &fakeStore{lists: map[string][]string{}, calls: &f.calls}
	if len(signatures) > 0 {
		f.store.lists["613153351"] = signatures
	}
	f.executor = &fakeExecutor{calls: &f.calls, txHash: "0xfeed"}
	execs := staticExecutors{executors: map[uint64]Executor{56: f.executor}}
	f.proc = NewProcessor(f.store, execs, f.journal, f.history, uuid.New(), zerolog.Nop())
	return f
}

func TestProcessJob_ConsumesSignaturesBeforeSettling(t *testing.T) {
	f := newFixture("0xsig1", "0xsig2")

	err := f.proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock))
	require.NoError(t, err)

	assert.Equal(t, []string{"range", "delete", "settle"}, f.calls)
	assert.Equal(t, []string{"0xsig1", "0xsig2"}, f.executor.signatures)
	assert.Empty(t, f.store.lists)

	require.Len(t, f.journal.rows, 1)
	row := f.journal.rows[0]
	assert.Equal(t, database.SettlementSucceeded, row.Status)
	assert.Equal(t, "0xfeed", row.TxHash)
	assert.Equal(t, "job-1", row.JobID)
}

func TestProcessJob_AbandonsWithoutSignatures(t *testing.T) {
	f := newFixture()

	err := f.proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock))
	require.NoError(t, err)

	assert.Equal(t, []string{"range"}, f.calls)
	assert.Empty(t, f.journal.rows)
}

func TestProcessJob_StoreErrorIsRetried(t *testing.T) {
	f := newFixture("0xsig1")
	f.store.rangeErr = errors.New("redis: connection refused")

	err := f.proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock))
	require.Error(t, err)

	var perm *queue.PermanentError
	assert.False(t, errors.As(err, &perm))
	assert.NotContains(t, f.calls, "settle")
}

func TestProcessJob_SettlementFailureIsJournaledNotRetried(t *testing.T) {
	f := newFixture("0xsig1")
	f.executor.txHash = "0xbeef"
	f.executor.err = errors.New("execution reverted")

	err := f.proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock))
	require.NoError(t, err)

	require.Len(t, f.journal.rows, 1)
	row := f.journal.rows[0]
	assert.Equal(t, database.SettlementFailed, row.Status)
	assert.Contains(t, row.Error, "execution reverted")
	assert.Contains(t, row.Error, ErrSettlementFailed.Error())
	assert.Equal(t, []string{"0xsig1"}, row.Signatures)
	assert.Equal(t, "0xbeef", row.TxHash)
}

func TestProcessJob_SettlementFailureLogsConsumedSignatures(t *testing.T) {
	f := newFixture("0xsig1", "0xsig2")
	f.executor.txHash = "0xbeef"
	f.executor.err = errors.New("timeout waiting for receipt")

	var buf bytes.Buffer
	execs := staticExecutors{executors: map[uint64]Executor{56: f.executor}}
	proc := NewProcessor(f.store, execs, nil, nil, uuid.New(), zerolog.New(&buf))

	require.NoError(t, proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock)))

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"signatures":["0xsig1","0xsig2"]`)
	assert.Contains(t, out, `"tx_hash":"0xbeef"`)
}

func TestProcessJob_UnknownDestinationIsPermanent(t *testing.T) {
	f := newFixture("0xsig1")
	job := evmJob(types.DirectionLock)
	job.DestinationChainID = 999

	err := f.proc.ProcessJob(context.Background(), "job-1", job)
	require.Error(t, err)

	var perm *queue.PermanentError
	assert.True(t, errors.As(err, &perm))
	assert.ErrorIs(t, err, types.ErrNetworkNotConfigured)
	assert.Empty(t, f.calls)
}

func TestProcessJob_NilJournal(t *testing.T) {
	f := newFixture("0xsig1")
	execs := staticExecutors{executors: map[uint64]Executor{56: f.executor}}
	proc := NewProcessor(f.store, execs, nil, nil, uuid.New(), zerolog.Nop())

	require.NoError(t, proc.ProcessJob(context.Background(), "job-1", evmJob(types.DirectionLock)))
	proc.Hooks().OnCompleted("job-1", evmJob(types.DirectionLock))
}

func TestHooks_CompletedReportsHistory(t *testing.T) {
	f := newFixture()
	f.history.err = errors.New("unavailable")
	job := evmJob(types.DirectionBurn)

	hooks := f.proc.Hooks()
	hooks.OnActive("job-1", job)
	hooks.OnCompleted("job-1", job)
	hooks.OnFailed("job-1", job, queue.Permanent(errors.New("boom")))

	require.Len(t, f.history.txs, 1)
	tx := f.history.txs[0]
	assert.Equal(t, job.Recipient, tx.User)
	assert.Equal(t, job.OriginTokenAddress, tx.OriginTokenAddress)
	assert.Equal(t, job.DestinationTokenAddress, tx.DestinationTokenAddress)
	assert.Equal(t, "1000", tx.Amount)
	assert.Equal(t, uint64(1399811149), tx.OriginChainID)
	assert.Equal(t, uint64(56), tx.DestinationChainID)
}
