package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/normalize"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeed     = uint32(7)
	solanaChain  = uint64(1399811149)
	testTxHash   = "0x8a3f0c1b2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f90"
	solanaTxHash = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
)

type fakeSigner struct{}

func (fakeSigner) SignMessage(message []byte) (string, error) {
	return "0xsig-" + string(message), nil
}

type memStore struct {
	mu    sync.Mutex
	lists map[string][]string
}

func newMemStore() *memStore {
	return &memStore{lists: make(map[string][]string)}
}

func (s *memStore) Append(ctx context.Context, message, signature string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[message] = append(s.lists[message], signature)
	return int64(len(s.lists[message])), nil
}

func (s *memStore) Count(ctx context.Context, message string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[message])), nil
}

type fakeChains struct {
	threshold uint64
	decimals  uint8
}

func (c *fakeChains) ChainType(chainID uint64) (types.ChainType, error) {
	switch chainID {
	case 1, 56:
		return types.ChainTypeEVM, nil
	case solanaChain:
		return types.ChainTypeSolana, nil
	}
	return "", fmt.Errorf("%w: chain id %d", types.ErrNetworkNotConfigured, chainID)
}

func (c *fakeChains) Threshold(ctx context.Context, chainID uint64) (uint64, error) {
	return c.threshold, nil
}

func (c *fakeChains) MintDecimals(ctx context.Context, chainID uint64, mint string) (uint8, error) {
	return c.decimals, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	seen map[string]bool
	jobs []*types.SettlementJob
	ids  []string
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job *types.SettlementJob, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.seen == nil {
		q.seen = make(map[string]bool)
	}
	if q.seen[jobID] {
		return false, nil
	}
	q.seen[jobID] = true
	q.jobs = append(q.jobs, job)
	q.ids = append(q.ids, jobID)
	return true, nil
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func lockEvent() types.BridgeEvent {
	return types.BridgeEvent{
		OriginChainID:      1,
		Direction:          types.DirectionLock,
		Sender:             "0x00000000000000000000000000000000000000aa",
		OriginToken:        "0xAbC0000000000000000000000000000000000001",
		DestinationToken:   "0xWrapped56",
		Amount:             big.NewInt(1000),
		DestinationChainID: 56,
		DestinationAddress: "0x00000000000000000000000000000000000000cc",
		TxHash:             testTxHash,
	}
}

func TestHandle_ThresholdOneEnqueues(t *testing.T) {
	store := newMemStore()
	q := &recordingQueue{}
	a := NewAggregator(testSeed, fakeSigner{}, store, &fakeChains{threshold: 1}, q, 1, zerolog.Nop())

	res, err := a.Handle(context.Background(), lockEvent())
	require.NoError(t, err)

	message := normalize.Fingerprint(testTxHash, testSeed)
	assert.Equal(t, message, res.MessageID)
	assert.Equal(t, normalize.JobID(message, testSeed), res.JobID)
	assert.True(t, res.Enqueued)
	assert.Equal(t, int64(1), res.Signatures)

	require.Len(t, store.lists[message], 1)
	assert.Equal(t, "0xsig-"+message, store.lists[message][0])

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.Equal(t, message, job.MessageID)
	assert.Equal(t, types.DirectionLock, job.Direction)
	assert.Equal(t, "0xWrapped56", job.DestinationTokenAddress)
	assert.Equal(t, "1000", job.Amount)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", job.Recipient)
	assert.Equal(t, uint64(56), job.DestinationChainID)
	assert.Equal(t, uint64(1), job.OriginChainID)
}

func TestHandle_BelowThresholdDoesNotEnqueue(t *testing.T) {
	store := newMemStore()
	q := &recordingQueue{}
	a := NewAggregator(testSeed, fakeSigner{}, store, &fakeChains{threshold: 2}, q, 1, zerolog.Nop())

	res, err := a.Handle(context.Background(), lockEvent())
	require.NoError(t, err)

	assert.False(t, res.Enqueued)
	assert.Empty(t, res.JobID)
	assert.Equal(t, 0, q.count())
	assert.Len(t, store.lists[res.MessageID], 1)
}

func TestHandle_SecondRelayerReachesThreshold(t *testing.T) {
	store := newMemStore()
	q := &recordingQueue{}
	chains := &fakeChains{threshold: 2}

	first := NewAggregator(testSeed, fakeSigner{}, store, chains, q, 1, zerolog.Nop())
	second := NewAggregator(testSeed, fakeSigner{}, store, chains, q, 1, zerolog.Nop())

	_, err := first.Handle(context.Background(), lockEvent())
	require.NoError(t, err)
	assert.Equal(t, 0, q.count())

	res, err := second.Handle(context.Background(), lockEvent())
	require.NoError(t, err)
	assert.True(t, res.Enqueued)
	assert.Equal(t, 1, q.count())

	// a third observer passes the check again but the queue collapses it
	res, err = first.Handle(context.Background(), lockEvent())
	require.NoError(t, err)
	assert.False(t, res.Enqueued)
	assert.Equal(t, 1, q.count())
}

func TestHandle_SolanaOriginIsRescaled(t *testing.T) {
	q := &recordingQueue{}
	a := NewAggregator(testSeed, fakeSigner{}, newMemStore(), &fakeChains{threshold: 1, decimals: 6}, q, 1, zerolog.Nop())

	ev := lockEvent()
	ev.OriginChainID = solanaChain
	ev.OriginToken = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	ev.Amount = big.NewInt(2_500_000)
	ev.TxHash = solanaTxHash

	_, err := a.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, 1, q.count())
	assert.Equal(t, "2500000000000000000", q.jobs[0].Amount)
}

func TestHandle_UnknownDestination(t *testing.T) {
	store := newMemStore()
	q := &recordingQueue{}
	a := NewAggregator(testSeed, fakeSigner{}, store, &fakeChains{threshold: 1}, q, 1, zerolog.Nop())

	ev := lockEvent()
	ev.DestinationChainID = 999

	_, err := a.Handle(context.Background(), ev)
	require.ErrorIs(t, err, types.ErrNetworkNotConfigured)
	assert.Empty(t, store.lists)
	assert.Equal(t, 0, q.count())
}

func TestHandle_EnqueueError(t *testing.T) {
	q := &recordingQueue{err: errors.New("nats: timeout")}
	a := NewAggregator(testSeed, fakeSigner{}, newMemStore(), &fakeChains{threshold: 1}, q, 1, zerolog.Nop())

	_, err := a.Handle(context.Background(), lockEvent())
	require.Error(t, err)
}

func TestStart_DrainsEvents(t *testing.T) {
	q := &recordingQueue{}
	a := NewAggregator(testSeed, fakeSigner{}, newMemStore(), &fakeChains{threshold: 1}, q, 4, zerolog.Nop())

	events := make(chan types.BridgeEvent)
	a.Start(context.Background(), events)

	for i := 0; i < 10; i++ {
		ev := lockEvent()
		ev.TxHash = fmt.Sprintf("0x%064x", i)
		events <- ev
	}

	require.Eventually(t, func() bool { return q.count() == 10 }, 2*time.Second, 5*time.Millisecond)
	close(events)
	a.Stop()
}
