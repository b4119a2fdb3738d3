package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/listener"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"
)

// Conn is a streaming connection to one EVM network's bridge contract
type Conn interface {
	Ready(ctx context.Context) error
	BlockNumber(ctx context.Context) (uint64, error)
	WatchTokensLocked(ctx context.Context, sink chan<- *evm.BridgeEvent) (event.Subscription, error)
	WatchWrappedTokensBurned(ctx context.Context, sink chan<- *evm.BridgeEvent) (event.Subscription, error)
	Close()
}

// DialFunc opens a Conn for a network
type DialFunc func(ctx context.Context, network *types.ChainConfig) (Conn, error)

// Dial opens a websocket connection to the network's bridge contract
func Dial(ctx context.Context, network *types.ChainConfig) (Conn, error) {
	conn, err := evm.DialWatch(ctx, network)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// session is one live connection with both event subscriptions
type session struct {
	conn   Conn
	sink   chan *evm.BridgeEvent
	locked event.Subscription
	burned event.Subscription
}

func (s *session) close() {
	s.locked.Unsubscribe()
	s.burned.Unsubscribe()
	s.conn.Close()
}

var _ listener.Watcher = (*Listener)(nil)

// Listener watches one EVM network for lock and burn events
type Listener struct {
	chainID  uint64
	name     string
	networks *types.Networks
	tokens   *types.TokenTable
	dial     DialFunc
	out      chan<- types.BridgeEvent
	logger   zerolog.Logger

	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewListener creates a new EVM event listener
func NewListener(
	chainID uint64,
	networks *types.Networks,
	tokens *types.TokenTable,
	dial DialFunc,
	out chan<- types.BridgeEvent,
	logger zerolog.Logger,
) (*Listener, error) {
	network, err := networks.Get(chainID)
	if err != nil {
		return nil, err
	}
	if network.ChainType != types.ChainTypeEVM {
		return nil, fmt.Errorf("invalid chain type: expected EVM, got %s", network.ChainType)
	}
	if network.BridgeContract == "" {
		return nil, fmt.Errorf("bridge contract address not configured")
	}
	if dial == nil {
		dial = Dial
	}

	return &Listener{
		chainID:  chainID,
		name:     network.Name,
		networks: networks,
		tokens:   tokens,
		dial:     dial,
		out:      out,
		logger: logger.With().
			Str("component", "listener").
			Str("chain", network.Name).
			Uint64("chain_id", chainID).
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

// Start connects, subscribes to both events and starts the liveness probe
func (l *Listener) Start(ctx context.Context) error {
	network, err := l.networks.Get(l.chainID)
	if err != nil {
		return err
	}

	l.logger.Info().
		Str("bridge", network.BridgeContract).
		Msg("Starting EVM listener")

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

// Stop deregisters all subscriptions. Safe to call more than once.
func (l *Listener) Stop() error {
	l.stopOnce.Do(func() {
		l.logger.Info().Msg("Stopping EVM listener")

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

// connect dials, verifies readiness and registers both subscriptions
func (l *Listener) connect(ctx context.Context, network *types.ChainConfig) (*session, error) {
	conn, err := l.dial(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if err := conn.Ready(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection not ready: %w", err)
	}

	sink := make(chan *evm.BridgeEvent, 64)

	locked, err := conn.WatchTokensLocked(ctx, sink)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", evm.EventTokensLocked, err)
	}

	burned, err := conn.WatchWrappedTokensBurned(ctx, sink)
	if err != nil {
		locked.Unsubscribe()
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", evm.EventWrappedTokensBurned, err)
	}

	l.logger.Info().Msg("Subscribed to bridge events")

	return &session{conn: conn, sink: sink, locked: locked, burned: burned}, nil
}

// run owns the session: it handles events, probes liveness and reconnects
func (l *Listener) run(ctx context.Context, network *types.ChainConfig, sess *session) {
	defer close(l.done)

	probe := time.NewTicker(network.GetKeepAliveIntervalDuration())
	defer probe.Stop()

	for {
		var transportErr error

		select {
		case <-ctx.Done():
			sess.close()
			l.logger.Info().Msg("Context cancelled, stopping listener")
			return

		case ev := <-sess.sink:
			if err := l.handleEvent(ctx, ev); err != nil {
				l.logger.Error().
					Err(err).
					Str("tx_hash", ev.Raw.TxHash.Hex()).
					Str("event", ev.Name).
					Msg("Failed to handle bridge event")
			}
			continue

		case err := <-sess.locked.Err():
			transportErr = fmt.Errorf("%s subscription: %w", evm.EventTokensLocked, errOrClosed(err))

		case err := <-sess.burned.Err():
			transportErr = fmt.Errorf("%s subscription: %w", evm.EventWrappedTokensBurned, errOrClosed(err))

		case <-probe.C:
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			block, err := sess.conn.BlockNumber(probeCtx)
			cancel()
			if err == nil {
				monitoring.UpdateChainBlockNumber(l.name, block)
				l.logger.Debug().Uint64("block", block).Msg("Liveness probe ok")
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			transportErr = fmt.Errorf("liveness probe: %w", err)
		}

		l.setState(listener.StateError)
		l.logger.Error().Err(transportErr).Msg("Connection error")
		sess.close()

		l.setState(listener.StateReconnecting)
		next, err := l.reconnect(ctx)
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

// reconnect retries connect on a fixed interval until it succeeds, the
// network disappears, the attempt bound is hit or ctx is cancelled
func (l *Listener) reconnect(ctx context.Context) (*session, error) {
	network, err := l.networks.Get(l.chainID)
	if err != nil {
		return nil, err
	}

	var sess *session
	op := func() error {
		monitoring.WatcherReconnects.WithLabelValues(l.name).Inc()

		network, err := l.networks.Get(l.chainID)
		if err != nil {
			return backoff.Permanent(err)
		}

		s, err := l.connect(ctx, network)
		if err != nil {
			return err
		}
		sess = s
		return nil
	}

	notify := func(err error, next time.Duration) {
		l.logger.Warn().
			Err(err).
			Dur("retry_in", next).
			Msg("Reconnect failed, retrying")
	}

	if err := backoff.RetryNotify(op, reconnectPolicy(ctx, network), notify); err != nil {
		return nil, err
	}
	return sess, nil
}

// reconnectPolicy is a constant interval, bounded only when
// MaxReconnectAttempts is set
func reconnectPolicy(ctx context.Context, network *types.ChainConfig) backoff.BackOff {
	var policy backoff.BackOff = backoff.NewConstantBackOff(network.GetReconnectIntervalDuration())
	if network.MaxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, network.MaxReconnectAttempts)
	}
	return backoff.WithContext(policy, ctx)
}

var errSubscriptionClosed = errors.New("subscription closed")

func errOrClosed(err error) error {
	if err == nil {
		return errSubscriptionClosed
	}
	return err
}

// handleEvent converts a contract event and hands it to the aggregator
func (l *Listener) handleEvent(ctx context.Context, ev *evm.BridgeEvent) error {
	var dir types.Direction
	switch ev.Name {
	case evm.EventTokensLocked:
		dir = types.DirectionLock
	case evm.EventWrappedTokensBurned:
		dir = types.DirectionBurn
	default:
		return fmt.Errorf("unexpected event %s", ev.Name)
	}

	if ev.DestinationChainId == nil || !ev.DestinationChainId.IsUint64() {
		return fmt.Errorf("destination chain id %v out of range", ev.DestinationChainId)
	}
	destination := ev.DestinationChainId.Uint64()

	token := ev.Token.Hex()
	destToken, err := l.tokens.Resolve(l.chainID, token, dir, destination)
	if err != nil {
		monitoring.ConfigErrors.WithLabelValues("token").Inc()
		return err
	}

	recipient := ev.User.Hex()
	if len(ev.DestinationAddress) > 0 {
		recipient = hexutil.Encode(ev.DestinationAddress)
	}

	bridgeEvent := types.BridgeEvent{
		OriginChainID:      l.chainID,
		Direction:          dir,
		Sender:             ev.User.Hex(),
		OriginToken:        token,
		DestinationToken:   destToken,
		Amount:             ev.Amount,
		DestinationChainID: destination,
		DestinationAddress: recipient,
		TxHash:             ev.Raw.TxHash.Hex(),
	}

	l.logger.Info().
		Str("direction", string(dir)).
		Str("tx_hash", bridgeEvent.TxHash).
		Str("token", token).
		Str("amount", ev.Amount.String()).
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
