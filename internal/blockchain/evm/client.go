package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	evmcrypto "github.com/EmekaIwuagwu/metabridge-relayer/internal/crypto/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/rs/zerolog"
)

// ErrTransactionFailed is returned when a mined receipt reports failure
var ErrTransactionFailed = errors.New("transaction failed on chain")

// Client represents an EVM blockchain client for one network
type Client struct {
	config       *types.ChainConfig
	clients      []*ethclient.Client
	currentIndex int
	mu           sync.RWMutex
	signer       *evmcrypto.ECDSASigner
	nonces       *NonceManager
	bridgeAddr   common.Address
	chainID      *big.Int
	logger       zerolog.Logger
}

// NewClient creates a new EVM client
func NewClient(
	ctx context.Context,
	config *types.ChainConfig,
	signer *evmcrypto.ECDSASigner,
	logger zerolog.Logger,
) (*Client, error) {
	if config.ChainType != types.ChainTypeEVM {
		return nil, fmt.Errorf("invalid chain type: expected EVM, got %s", config.ChainType)
	}
	if !common.IsHexAddress(config.BridgeContract) {
		return nil, fmt.Errorf("invalid bridge contract address %q", config.BridgeContract)
	}

	client := &Client{
		config:     config,
		clients:    make([]*ethclient.Client, 0, len(config.RPCEndpoints)),
		signer:     signer,
		bridgeAddr: common.HexToAddress(config.BridgeContract),
		chainID:    new(big.Int).SetUint64(config.ChainID),
		logger: logger.With().
			Str("chain", config.Name).
			Uint64("chain_id", config.ChainID).
			Logger(),
	}

	for i, endpoint := range config.RPCEndpoints {
		rpcClient, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			client.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("index", i).
				Msg("Failed to connect to RPC endpoint")
			continue
		}
		client.clients = append(client.clients, rpcClient)
	}

	if len(client.clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any RPC endpoint")
	}

	if signer != nil {
		client.nonces = NewNonceManager(signer.Address(), client.PendingNonceAt)
	}

	client.logger.Info().
		Int("connected_rpcs", len(client.clients)).
		Str("bridge", client.bridgeAddr.Hex()).
		Msg("EVM client initialized")

	return client, nil
}

// ChainID returns the configured chain ID
func (c *Client) ChainID() uint64 {
	return c.config.ChainID
}

// Name returns the configured network name
func (c *Client) Name() string {
	return c.config.Name
}

// Close closes all client connections
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, client := range c.clients {
		if client != nil {
			client.Close()
			c.logger.Debug().Int("index", i).Msg("Closed RPC client")
		}
	}

	return nil
}

// getClient returns the current active client with failover
func (c *Client) getClient() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.clients) == 0 {
		return nil
	}

	return c.clients[c.currentIndex%len(c.clients)]
}

// rotateClient rotates to the next available client
func (c *Client) rotateClient() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentIndex = (c.currentIndex + 1) % len(c.clients)
	c.logger.Debug().
		Int("new_index", c.currentIndex).
		Msg("Rotated to next RPC client")
}

// executeWithFailover executes a read-only call with automatic failover
func (c *Client) executeWithFailover(ctx context.Context, fn func(*ethclient.Client) error) error {
	maxRetries := len(c.clients)
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		client := c.getClient()
		if client == nil {
			return fmt.Errorf("no available clients")
		}

		err := fn(client)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", i+1).
			Msg("RPC call failed, trying next endpoint")

		c.rotateClient()
	}

	return fmt.Errorf("all RPC endpoints failed: %w", lastErr)
}

// GetLatestBlockNumber returns the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var blockNumber uint64

	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		bn, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		blockNumber = bn
		return nil
	})

	return blockNumber, err
}

// GetThreshold reads the bridge's required signature count
func (c *Client) GetThreshold(ctx context.Context) (uint64, error) {
	var threshold *big.Int

	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		t, err := NewBridge(c.bridgeAddr, client).GetThreshold(&bind.CallOpts{Context: ctx})
		if err != nil {
			return err
		}
		threshold = t
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read threshold: %w", err)
	}
	if !threshold.IsUint64() {
		return 0, fmt.Errorf("threshold %s out of range", threshold)
	}

	return threshold.Uint64(), nil
}

// MintWrappedTokens mints wrapped tokens and waits for the receipt
func (c *Client) MintWrappedTokens(ctx context.Context, req *SettlementRequest) (*ethtypes.Receipt, error) {
	return c.settle(ctx, methodMintWrappedTokens, req)
}

// UnlockTokens releases native tokens and waits for the receipt
func (c *Client) UnlockTokens(ctx context.Context, req *SettlementRequest) (*ethtypes.Receipt, error) {
	return c.settle(ctx, methodUnlockTokens, req)
}

func (c *Client) settle(ctx context.Context, method string, req *SettlementRequest) (*ethtypes.Receipt, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("no wallet configured for chain %d", c.config.ChainID)
	}

	client := c.getClient()
	if client == nil {
		return nil, fmt.Errorf("no available clients")
	}

	opts, err := c.signer.TransactOpts(c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx

	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	opts.GasPrice = gasPrice

	data, err := PackSettlement(method, req)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	gasLimit, err := c.EstimateGas(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &c.bridgeAddr,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}
	opts.GasLimit = gasLimit

	tx, err := c.send(ctx, NewBridge(c.bridgeAddr, client), opts, method, req)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Str("method", method).
		Msg("Transaction sent successfully")

	waitCtx, cancel := context.WithTimeout(ctx, c.config.GetConfirmationTimeoutDuration())
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		// only TxHash is known; the transaction may still be mined
		return &ethtypes.Receipt{TxHash: tx.Hash()}, fmt.Errorf("failed waiting for %s: %w", tx.Hash().Hex(), err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s status %d", ErrTransactionFailed, tx.Hash().Hex(), receipt.Status)
	}

	c.logger.Info().
		Str("tx_hash", tx.Hash().Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("Transaction confirmed")

	return receipt, nil
}

// send submits the settlement with a nonce from the chain's nonce manager,
// so concurrent settlements from this relayer never share a nonce
func (c *Client) send(
	ctx context.Context,
	bridge *Bridge,
	opts *bind.TransactOpts,
	method string,
	req *SettlementRequest,
) (*ethtypes.Transaction, error) {
	var tx *ethtypes.Transaction
	err := c.nonces.Send(ctx, func(nonce uint64) error {
		opts.Nonce = new(big.Int).SetUint64(nonce)

		var err error
		switch method {
		case methodMintWrappedTokens:
			tx, err = bridge.MintWrappedTokens(opts, req)
		case methodUnlockTokens:
			tx, err = bridge.UnlockTokens(opts, req)
		default:
			return fmt.Errorf("unknown settlement method %s", method)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	c.logger.Debug().
		Uint64("nonce", tx.Nonce()).
		Str("method", method).
		Msg("Settlement transaction submitted")

	return tx, nil
}

// PendingNonceAt returns the pending nonce of account
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64

	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		n, err := client.PendingNonceAt(ctx, account)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})

	return nonce, err
}

// EstimateGas estimates gas for a transaction
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gasLimit uint64

	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		gas, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		gasLimit = gas
		return nil
	})

	if err != nil {
		return 0, err
	}

	return applyGasMultiplier(gasLimit, c.config.GasLimitMultiplier), nil
}

// SuggestGasPrice suggests a gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int

	err := c.executeWithFailover(ctx, func(client *ethclient.Client) error {
		gp, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		gasPrice = gp
		return nil
	})

	if err != nil {
		return nil, err
	}

	capped := capGasPrice(gasPrice, c.config.MaxGasPrice)
	if capped != gasPrice {
		c.logger.Warn().
			Str("suggested", gasPrice.String()).
			Str("max", capped.String()).
			Msg("Gas price exceeds maximum, capping")
	}

	return capped, nil
}

func applyGasMultiplier(gasLimit uint64, multiplier float64) uint64 {
	if multiplier == 0 {
		multiplier = 1.2 // default 20% buffer
	}
	return uint64(float64(gasLimit) * multiplier)
}

// capGasPrice returns max when price exceeds it, otherwise price itself
func capGasPrice(price *big.Int, max string) *big.Int {
	if max == "" {
		return price
	}
	maxGasPrice, ok := new(big.Int).SetString(max, 10)
	if ok && price.Cmp(maxGasPrice) > 0 {
		return maxGasPrice
	}
	return price
}

// WatchConn is a streaming connection used by a chain watcher
type WatchConn struct {
	config *types.ChainConfig
	client *ethclient.Client
	bridge *Bridge
}

// DialWatch opens a streaming connection to the network's websocket endpoint
func DialWatch(ctx context.Context, config *types.ChainConfig) (*WatchConn, error) {
	endpoint := config.WSEndpoint
	if endpoint == "" {
		endpoint = config.RPCEndpoint()
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured for chain %d", config.ChainID)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return &WatchConn{
		config: config,
		client: client,
		bridge: NewBridge(common.HexToAddress(config.BridgeContract), client),
	}, nil
}

// Ready verifies the connection answers and points at the configured chain
func (w *WatchConn) Ready(ctx context.Context) error {
	chainID, err := w.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id: %w", err)
	}
	if !chainID.IsUint64() || chainID.Uint64() != w.config.ChainID {
		return fmt.Errorf("connected to chain %s, expected %d", chainID, w.config.ChainID)
	}
	return nil
}

// BlockNumber returns the latest block number
func (w *WatchConn) BlockNumber(ctx context.Context) (uint64, error) {
	return w.client.BlockNumber(ctx)
}

// WatchTokensLocked subscribes to TokensLocked events
func (w *WatchConn) WatchTokensLocked(ctx context.Context, sink chan<- *BridgeEvent) (event.Subscription, error) {
	return w.bridge.WatchBridgeEvents(&bind.WatchOpts{Context: ctx}, EventTokensLocked, sink)
}

// WatchWrappedTokensBurned subscribes to WrappedTokensBurned events
func (w *WatchConn) WatchWrappedTokensBurned(ctx context.Context, sink chan<- *BridgeEvent) (event.Subscription, error) {
	return w.bridge.WatchBridgeEvents(&bind.WatchOpts{Context: ctx}, EventWrappedTokensBurned, sink)
}

// Close closes the streaming connection
func (w *WatchConn) Close() {
	w.client.Close()
}
