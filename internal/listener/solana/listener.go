package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/solana"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/listener"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/cenkalti/backoff/v4"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	readLimit    = 1 << 20
	probeTimeout = 10 * time.Second
)

var _ listener.Watcher = (*Listener)(nil)

// Listener streams bridge program logs from a Solana websocket endpoint
type Listener struct {
	chainID   uint64
	name      string
	networks  *types.Networks
	tokens    *types.TokenTable
	programID solanago.PublicKey
	out       chan<- types.BridgeEvent
	logger    zerolog.Logger

	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewListener creates a new Solana event listener
func NewListener(
	chainID uint64,
	networks *types.Networks,
	tokens *types.TokenTable,
	out chan<- types.BridgeEvent,
	logger zerolog.Logger,
) (*Listener, error) {
	network, err := networks.Get(chainID)
	if err != nil {
		return nil, err
	}
	if network.ChainType != types.ChainTypeSolana {
		return nil, fmt.Errorf("invalid chain type: expected SOLANA, got %s", network.ChainType)
	}

	programID, err := solanago.PublicKeyFromBase58(network.BridgeProgram)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge program ID: %w", err)
	}

	return &Listener{
		chainID:   chainID,
		name:      network.Name,
		networks:  networks,
		tokens:    tokens,
		programID: programID,
		out:       out,
		logger: logger.With().
			Str("component", "listener").
			Str("chain", network.Name).
			Logger(),
		done: make(chan struct{}),
	}, nil
}

// State returns the current connection state
func (l *Listener) State() listener.State {
	return listener.State(l.state.Load())
}

func (l *Listener) setState(s listener.State) {
	l.state.Store(int32(s))
	monitoring.UpdateWatcherState(l.name, int(s))
}

// Start opens the websocket and subscribes to the bridge program's logs
func (l *Listener) Start(ctx context.Context) error {
	network, err := l.networks.Get(l.chainID)
	if err != nil {
		return err
	}

	l.logger.Info().
		Str("program", l.programID.String()).
		Str("commitment", commitment(network)).
		Msg("Starting Solana listener")

	sess, err := l.connect(ctx, network)
	if err != nil {
		return fmt.Errorf("failed to start listener for %s: %w", l.name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.setState(listener.StateConnected)
	go l.run(runCtx, network, sess)

	return nil
}

// Stop closes the subscription. Safe to call more than once.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping Solana listener")

		l.mu.Lock()
		cancel := l.cancel
		l.mu.Unlock()

		if cancel != nil {
			cancel()
			<-l.done
		}
		l.setState(listener.StateStopped)
	})
	return nil
}

// session is one websocket with its read pump
type session struct {
	ws     *websocket.Conn
	data   chan []byte
	errC   chan error
	cancel context.CancelFunc
}

func (s *session) close() {
	s.ws.Close(websocket.StatusNormalClosure, "")
	s.cancel()
}

// pump reads frames until the socket fails or the session is closed.
// Reads have no deadline: a quiet program is normal, and liveness is
// judged by the keepalive pings in run.
func (s *session) pump(ctx context.Context) {
	for {
		_, msg, err := s.ws.Read(ctx)
		if err != nil {
			select {
			case s.errC <- err:
			case <-ctx.Done():
			}
			return
		}
		select {
		case s.data <- msg:
		case <-ctx.Done():
			return
		}
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// connect dials the websocket and issues logsSubscribe for the program
func (l *Listener) connect(ctx context.Context, network *types.ChainConfig) (*session, error) {
	url := wsEndpoint(network)
	l.logger.Info().Str("url", url).Msg("Connecting to Solana websocket")

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	ws, _, err := websocket.Dial(dialCtx, url, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{l.programID.String()}},
			map[string]interface{}{"commitment": commitment(network)},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, err
	}

	if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	l.logger.Info().Str("subscription_id", req.ID).Msg("Subscribed to program logs")

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		ws:     ws,
		data:   make(chan []byte, 64),
		errC:   make(chan error, 1),
		cancel: sessCancel,
	}
	go sess.pump(sessCtx)

	return sess, nil
}

// run owns the session: it handles notifications, pings and reconnects
func (l *Listener) run(ctx context.Context, network *types.ChainConfig, sess *session) {
	defer close(l.done)

	interval := network.GetKeepAliveIntervalDuration()
	pongWait := probeTimeout
	if interval < pongWait {
		pongWait = interval
	}

	probe := time.NewTicker(interval)
	defer probe.Stop()

	for {
		var transportErr error

		select {
		case <-ctx.Done():
			sess.close()
			l.logger.Info().Msg("Context cancelled, stopping listener")
			return

		case msg := <-sess.data:
			err := l.handleMessage(ctx, msg)
			var rejected *subscriptionError
			if !errors.As(err, &rejected) {
				if err != nil {
					l.logger.Error().Err(err).Msg("Failed to handle program logs")
				}
				continue
			}
			transportErr = err

		case err := <-sess.errC:
			transportErr = fmt.Errorf("read: %w", err)

		case <-probe.C:
			pingCtx, cancel := context.WithTimeout(ctx, pongWait)
			err := sess.ws.Ping(pingCtx)
			cancel()
			if err == nil || ctx.Err() != nil {
				continue
			}
			transportErr = fmt.Errorf("liveness probe: %w", err)
		}

		l.setState(listener.StateError)
		l.logger.Error().Err(transportErr).Msg("Connection error")
		sess.close()

		l.setState(listener.StateReconnecting)
		next, err := l.reconnect(ctx, network)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.setState(listener.StateError)
			l.logger.Error().Err(err).Msg("Giving up reconnecting")
			return
		}

		sess = next
		l.setState(listener.StateConnected)
		l.logger.Info().Msg("Reconnected")
	}
}

func (l *Listener) reconnect(ctx context.Context, network *types.ChainConfig) (*session, error) {
	var policy backoff.BackOff = backoff.NewConstantBackOff(network.GetReconnectIntervalDuration())
	if network.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, network.MaxReconnectAttempts)
	}

	var sess *session
	op := func() error {
		monitoring.WatcherReconnects.WithLabelValues(l.name).Inc()

		current, err := l.networks.Get(l.chainID)
		if err != nil {
			return backoff.Permanent(err)
		}

		s, err := l.connect(ctx, current)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}

	notify := func(err error, next time.Duration) {
		l.logger.Warn().Err(err).Dur("retry_in", next).Msg("Reconnect failed, retrying")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return sess, nil
}

type subscriptionError struct {
	code    int
	message string
}

func (e *subscriptionError) Error() string {
	return fmt.Sprintf("subscription rejected: %d %s", e.code, e.message)
}

// handleMessage processes one frame. Subscription acks are logged,
// failed transactions are skipped.
func (l *Listener) handleMessage(ctx context.Context, msg []byte) error {
	var m rpcMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}

	if m.Error != nil {
		return &subscriptionError{code: m.Error.Code, message: m.Error.Message}
	}

	if m.ID != nil {
		l.logger.Debug().Str("id", *m.ID).Str("result", string(m.Result)).Msg("Subscription confirmed")
		return nil
	}

	if m.Method != "logsNotification" || m.Params == nil {
		return nil
	}

	value := m.Params.Result.Value
	if len(value.Err) > 0 && string(value.Err) != "null" {
		l.logger.Debug().Str("signature", value.Signature).Msg("Skipping failed transaction")
		return nil
	}

	events, err := solana.ParseLogs(value.Logs)
	if err != nil {
		return fmt.Errorf("failed to parse logs for %s: %w", value.Signature, err)
	}

	for _, ev := range events {
		if err := l.emit(ctx, value.Signature, ev); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) emit(ctx context.Context, signature string, ev *solana.DecodedEvent) error {
	dir := types.DirectionLock
	if ev.Kind == solana.EventTokensBurned {
		dir = types.DirectionBurn
	}

	mint := ev.Mint.String()
	destination := uint64(ev.DestinationChain)

	destToken, err := l.tokens.Resolve(l.chainID, mint, dir, destination)
	if err != nil {
		monitoring.ConfigErrors.WithLabelValues("token").Inc()
		l.logger.Error().
			Err(err).
			Str("signature", signature).
			Msg("No token route for event")
		return nil
	}

	bridgeEvent := types.BridgeEvent{
		OriginChainID:      l.chainID,
		Direction:          dir,
		OriginToken:        mint,
		DestinationToken:   destToken,
		Amount:             new(big.Int).SetUint64(ev.Amount),
		DestinationChainID: destination,
		DestinationAddress: strings.TrimSpace(ev.DestinationAddress),
		TxHash:             signature,
	}

	l.logger.Info().
		Str("direction", string(dir)).
		Str("signature", signature).
		Str("mint", mint).
		Uint64("amount", ev.Amount).
		Uint64("destination_chain_id", destination).
		Msg("Bridge event detected")
	monitoring.EventsTotal.WithLabelValues(l.name, string(dir)).Inc()

	select {
	case l.out <- bridgeEvent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func commitment(network *types.ChainConfig) string {
	if network.Commitment == "" {
		return "finalized"
	}
	return network.Commitment
}

// wsEndpoint falls back to the RPC endpoint with a websocket scheme
func wsEndpoint(network *types.ChainConfig) string {
	if network.WSEndpoint != "" {
		return network.WSEndpoint
	}
	rpc := network.RPCEndpoint()
	switch {
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(rpc, "http://")
	}
	return rpc
}
