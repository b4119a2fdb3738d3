package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

// ErrTransactionFailed is returned when a finalized transaction carries an error
var ErrTransactionFailed = errors.New("transaction failed on chain")

// Client represents a Solana blockchain client bound to the bridge program
type Client struct {
	config     *types.ChainConfig
	rpcClients []*rpc.Client
	program    solana.PublicKey
	payer      solana.PrivateKey
	logger     zerolog.Logger
}

// NewClient creates a new Solana client. payer may be empty for a
// read-only client.
func NewClient(
	config *types.ChainConfig,
	payer solana.PrivateKey,
	logger zerolog.Logger,
) (*Client, error) {
	if config.ChainType != types.ChainTypeSolana {
		return nil, fmt.Errorf("invalid chain type: expected SOLANA, got %s", config.ChainType)
	}

	program, err := solana.PublicKeyFromBase58(config.BridgeProgram)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge program %q: %w", config.BridgeProgram, err)
	}

	client := &Client{
		config:     config,
		rpcClients: make([]*rpc.Client, 0, len(config.RPCEndpoints)),
		program:    program,
		payer:      payer,
		logger: logger.With().
			Str("chain", config.Name).
			Uint64("chain_id", config.ChainID).
			Logger(),
	}

	for _, endpoint := range config.RPCEndpoints {
		client.rpcClients = append(client.rpcClients, rpc.New(endpoint))
	}

	if len(client.rpcClients) == 0 {
		return nil, fmt.Errorf("no RPC clients initialized")
	}

	client.logger.Info().
		Int("rpc_clients", len(client.rpcClients)).
		Str("program", program.String()).
		Msg("Solana client initialized")

	return client, nil
}

// ChainID returns the configured chain ID sentinel
func (c *Client) ChainID() uint64 {
	return c.config.ChainID
}

// Name returns the configured network name
func (c *Client) Name() string {
	return c.config.Name
}

// Program returns the bridge program ID
func (c *Client) Program() solana.PublicKey {
	return c.program
}

// Close closes all connections
func (c *Client) Close() error {
	for _, client := range c.rpcClients {
		if err := client.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Error closing RPC client")
		}
	}
	c.logger.Info().Msg("Solana client closed")
	return nil
}

// withFailover runs fn against each endpoint until one succeeds
func (c *Client) withFailover(ctx context.Context, op string, fn func(*rpc.Client) error) error {
	var lastErr error
	for _, client := range c.rpcClients {
		err := fn(client)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, rpc.ErrNotFound) {
			return err
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("op", op).Msg("RPC call failed, trying next endpoint")
	}
	return fmt.Errorf("%s failed on all endpoints: %w", op, lastErr)
}

// GetSlot returns the current slot
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.withFailover(ctx, "getSlot", func(client *rpc.Client) error {
		s, err := client.GetSlot(ctx, c.getCommitment())
		if err != nil {
			return err
		}
		slot = s
		return nil
	})
	return slot, err
}

// GetMintDecimals returns the decimals of an SPL mint
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var decimals uint8
	err := c.withFailover(ctx, "getTokenSupply", func(client *rpc.Client) error {
		out, err := client.GetTokenSupply(ctx, mint, c.getCommitment())
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return fmt.Errorf("empty token supply for %s", mint)
		}
		decimals = out.Value.Decimals
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read mint %s: %w", mint, err)
	}
	return decimals, nil
}

// GetThreshold reads the signature threshold from the bridge config account
func (c *Client) GetThreshold(ctx context.Context) (uint64, error) {
	configPDA, err := BridgeConfigPDA(c.program)
	if err != nil {
		return 0, err
	}

	var data []byte
	err = c.withFailover(ctx, "getAccountInfo", func(client *rpc.Client) error {
		out, err := client.GetAccountInfoWithOpts(ctx, configPDA, &rpc.GetAccountInfoOpts{
			Commitment: c.getCommitment(),
		})
		if err != nil {
			return err
		}
		data = out.Value.Data.GetBinary()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read bridge config: %w", err)
	}

	cfg, err := DecodeBridgeConfig(data)
	if err != nil {
		return 0, err
	}
	return uint64(cfg.Threshold), nil
}

// accountExists reports whether an account has been created
func (c *Client) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	err := c.withFailover(ctx, "getAccountInfo", func(client *rpc.Client) error {
		_, err := client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Commitment: c.getCommitment(),
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases native tokens from the vault to the receiver
func (c *Client) Unlock(ctx context.Context, req *SettlementRequest) (solana.Signature, error) {
	ix, err := NewUnlockInstruction(c.program, c.payer.PublicKey(), req)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.settle(ctx, "unlock", req, ix)
}

// MintWrapped mints wrapped tokens to the receiver
func (c *Client) MintWrapped(ctx context.Context, req *SettlementRequest) (solana.Signature, error) {
	ix, err := NewMintWrappedInstruction(c.program, c.payer.PublicKey(), req)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.settle(ctx, "mint_wrapped", req, ix)
}

func (c *Client) settle(ctx context.Context, name string, req *SettlementRequest, ix solana.Instruction) (solana.Signature, error) {
	if c.payer == nil {
		return solana.Signature{}, fmt.Errorf("no wallet configured for chain %d", c.config.ChainID)
	}

	payer := c.payer.PublicKey()
	instructions := []solana.Instruction{}

	receiverATA, _, err := solana.FindAssociatedTokenAddress(req.Receiver, req.Mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive receiver token account: %w", err)
	}
	exists, err := c.accountExists(ctx, receiverATA)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to look up receiver token account: %w", err)
	}
	if !exists {
		c.logger.Info().
			Str("owner", req.Receiver.String()).
			Str("ata", receiverATA.String()).
			Msg("Creating receiver token account")
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(payer, req.Receiver, req.Mint).Build())
	}
	instructions = append(instructions, ix)

	var blockhash solana.Hash
	err = c.withFailover(ctx, "getLatestBlockhash", func(client *rpc.Client) error {
		out, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		blockhash = out.Value.Blockhash
		return nil
	})
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build %s transaction: %w", name, err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &c.payer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign %s transaction: %w", name, err)
	}

	sig, err := c.sendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send %s: %w", name, err)
	}

	if err := c.WaitForConfirmation(ctx, sig, c.config.GetConfirmationTimeoutDuration()); err != nil {
		return sig, err
	}

	return sig, nil
}

func (c *Client) sendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	for _, client := range c.rpcClients {
		sig, err := client.SendTransactionWithOpts(
			ctx,
			tx,
			rpc.TransactionOpts{
				SkipPreflight:       false,
				PreflightCommitment: c.getCommitment(),
			},
		)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send transaction")
			continue
		}

		c.logger.Info().
			Str("signature", sig.String()).
			Msg("Solana transaction sent")

		return sig, nil
	}

	return solana.Signature{}, fmt.Errorf("failed to send transaction to all endpoints")
}

// WaitForConfirmation polls until the transaction is finalized
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for finalization of %s: %w", sig, ctx.Err())
		case <-ticker.C:
			var status *rpc.SignatureStatusesResult
			err := c.withFailover(ctx, "getSignatureStatuses", func(client *rpc.Client) error {
				out, err := client.GetSignatureStatuses(ctx, true, sig)
				if err != nil {
					return err
				}
				if len(out.Value) > 0 {
					status = out.Value[0]
				}
				return nil
			})
			if err != nil && !errors.Is(err, rpc.ErrNotFound) {
				c.logger.Warn().
					Err(err).
					Str("signature", sig.String()).
					Msg("Error checking transaction status")
				continue
			}
			if status == nil {
				continue
			}

			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}

			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				c.logger.Info().
					Str("signature", sig.String()).
					Uint64("slot", status.Slot).
					Msg("Transaction finalized")
				return nil
			}
		}
	}
}

// getCommitment returns the configured commitment level
func (c *Client) getCommitment() rpc.CommitmentType {
	switch c.config.Commitment {
	case "processed":
		return rpc.CommitmentProcessed
	case "confirmed":
		return rpc.CommitmentConfirmed
	default:
		return rpc.CommitmentFinalized
	}
}
