package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/listener"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWatcher struct {
	state listener.State
}

func (w *stubWatcher) Start(ctx context.Context) error { return nil }
func (w *stubWatcher) Stop() error                     { return nil }
func (w *stubWatcher) State() listener.State           { return w.state }

type stubJobs struct {
	statuses map[string]*queue.JobStatus
	err      error
}

func (j stubJobs) Status(ctx context.Context, id string) (*queue.JobStatus, error) {
	if j.err != nil {
		return nil, j.err
	}
	status, ok := j.statuses[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return status, nil
}

type stubChains []blockchain.ChainHealth

func (c stubChains) Health() []blockchain.ChainHealth { return c }

func newTestServer(jobs JobStatusSource, watchers map[string]listener.Watcher) *Server {
	chains := stubChains{{Name: "bsc", ChainID: 56, Height: 42, Healthy: true}}
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, jobs, chains, watchers, zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetJob(t *testing.T) {
	job := &types.SettlementJob{MessageID: "613153351", Amount: "1000", DestinationChainID: 56}
	jobs := stubJobs{statuses: map[string]*queue.JobStatus{
		"job-7": {ID: "job-7", State: queue.StateQueued, Payload: job},
	}}
	s := newTestServer(jobs, nil)

	rec := get(t, s, "/v1/jobs/job-7")
	require.Equal(t, http.StatusOK, rec.Code)

	var body queue.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-7", body.ID)
	assert.Equal(t, queue.StateQueued, body.State)
	require.NotNil(t, body.Payload)
	assert.Equal(t, "613153351", body.Payload.MessageID)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestServer(stubJobs{}, nil)

	rec := get(t, s, "/v1/jobs/job-404")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_BackendError(t *testing.T) {
	s := newTestServer(stubJobs{err: errors.New("nats: timeout")}, nil)

	rec := get(t, s, "/v1/jobs/job-1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReady(t *testing.T) {
	watchers := map[string]listener.Watcher{
		"bsc":    &stubWatcher{state: listener.StateConnected},
		"solana": &stubWatcher{state: listener.StateReconnecting},
	}
	s := newTestServer(stubJobs{}, watchers)

	rec := get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"solana":"reconnecting"`)

	watchers["solana"].(*stubWatcher).state = listener.StateConnected
	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"bsc":"connected"`)
}

func TestChainsAndMetrics(t *testing.T) {
	s := newTestServer(stubJobs{}, nil)

	rec := get(t, s, "/v1/chains")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"height":42`)

	rec = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type stubJournal struct {
	byMessage map[string][]*database.Settlement
	limit     int
	healthErr error
}

func (j *stubJournal) HealthCheck(ctx context.Context) error {
	return j.healthErr
}

func (j *stubJournal) GetSettlementsByMessage(ctx context.Context, messageID string) ([]*database.Settlement, error) {
	return j.byMessage[messageID], nil
}

func (j *stubJournal) GetFailedSettlements(ctx context.Context, limit int) ([]*database.Settlement, error) {
	j.limit = limit
	return nil, nil
}

func TestSettlements(t *testing.T) {
	s := newTestServer(stubJobs{}, nil)

	rec := get(t, s, "/v1/settlements/613153351")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	journal := &stubJournal{byMessage: map[string][]*database.Settlement{
		"613153351": {{MessageID: "613153351", Status: database.SettlementSucceeded, TxHash: "0xfeed"}},
	}}
	s.SetJournal(journal)

	rec = get(t, s, "/v1/settlements/613153351")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0xfeed")

	rec = get(t, s, "/v1/settlements/failed?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, journal.limit)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = get(t, s, "/v1/settlements/failed?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	journal.healthErr = errors.New("connection refused")
	rec = get(t, s, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
