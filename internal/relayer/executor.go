package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/solana"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/normalize"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	// ErrSettlementFailed wraps every error raised while submitting a settlement
	ErrSettlementFailed = errors.New("settlement failed")

	// ErrInvalidJob is returned for jobs that can never settle as submitted
	ErrInvalidJob = errors.New("invalid settlement job")
)

// Executor submits a settlement on one destination chain and returns the
// destination transaction hash or signature. A transaction that was sent
// but failed to confirm is returned together with the error.
type Executor interface {
	Settle(ctx context.Context, job *types.SettlementJob, signatures []string) (string, error)
}

// ExecutorSource resolves the executor of a destination chain
type ExecutorSource interface {
	Executor(chainID uint64) (Executor, error)
}

// EVMBridge is the EVM bridge surface used for settlement
type EVMBridge interface {
	MintWrappedTokens(ctx context.Context, req *evm.SettlementRequest) (*ethtypes.Receipt, error)
	UnlockTokens(ctx context.Context, req *evm.SettlementRequest) (*ethtypes.Receipt, error)
}

// SolanaBridge is the Solana program surface used for settlement
type SolanaBridge interface {
	GetMintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error)
	MintWrapped(ctx context.Context, req *solana.SettlementRequest) (solanago.Signature, error)
	Unlock(ctx context.Context, req *solana.SettlementRequest) (solanago.Signature, error)
}

type evmExecutor struct {
	bridge EVMBridge
}

// NewEVMExecutor settles jobs through an EVM bridge contract
func NewEVMExecutor(bridge EVMBridge) Executor {
	return &evmExecutor{bridge: bridge}
}

func (e *evmExecutor) Settle(ctx context.Context, job *types.SettlementJob, signatures []string) (string, error) {
	to, err := normalize.EVMAddress(job.Recipient)
	if err != nil {
		return "", fmt.Errorf("%w: recipient: %v", ErrInvalidJob, err)
	}
	if !common.IsHexAddress(job.DestinationTokenAddress) {
		return "", fmt.Errorf("%w: token %q is not an EVM address", ErrInvalidJob, job.DestinationTokenAddress)
	}
	amount, err := job.AmountInt()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	sigs, err := decodeSignatures(signatures)
	if err != nil {
		return "", err
	}

	req := &evm.SettlementRequest{
		Amount:     amount,
		To:         to,
		Token:      common.HexToAddress(job.DestinationTokenAddress),
		Message:    normalize.MessageBytes(job.MessageID),
		Signatures: sigs,
	}

	var receipt *ethtypes.Receipt
	switch job.Direction {
	case types.DirectionLock:
		receipt, err = e.bridge.MintWrappedTokens(ctx, req)
	case types.DirectionBurn:
		receipt, err = e.bridge.UnlockTokens(ctx, req)
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidJob, job.Direction)
	}
	if err != nil {
		// a sent transaction is reported even when it did not confirm
		if receipt != nil && receipt.TxHash != (common.Hash{}) {
			return receipt.TxHash.Hex(), err
		}
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

type solanaExecutor struct {
	bridge SolanaBridge
}

// NewSolanaExecutor settles jobs through the Solana bridge program
func NewSolanaExecutor(bridge SolanaBridge) Executor {
	return &solanaExecutor{bridge: bridge}
}

func (e *solanaExecutor) Settle(ctx context.Context, job *types.SettlementJob, signatures []string) (string, error) {
	recipient, err := normalize.HexToBase58(job.Recipient)
	if err != nil {
		return "", fmt.Errorf("%w: recipient: %v", ErrInvalidJob, err)
	}
	receiver, err := solanago.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("%w: recipient: %v", ErrInvalidJob, err)
	}
	mint, err := solanago.PublicKeyFromBase58(job.DestinationTokenAddress)
	if err != nil {
		return "", fmt.Errorf("%w: mint %q: %v", ErrInvalidJob, job.DestinationTokenAddress, err)
	}
	canonical, err := job.AmountInt()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	amount, err := e.nativeAmount(ctx, mint, canonical)
	if err != nil {
		return "", err
	}

	sigs, err := decodeSignatures(signatures)
	if err != nil {
		return "", err
	}

	req := &solana.SettlementRequest{
		Mint:       mint,
		Receiver:   receiver,
		Amount:     amount,
		Message:    normalize.MessageBytes(job.MessageID),
		Signatures: sigs,
	}

	var sig solanago.Signature
	switch job.Direction {
	case types.DirectionLock:
		sig, err = e.bridge.MintWrapped(ctx, req)
	case types.DirectionBurn:
		sig, err = e.bridge.Unlock(ctx, req)
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidJob, job.Direction)
	}
	if err != nil {
		if !sig.IsZero() {
			return sig.String(), err
		}
		return "", err
	}
	return sig.String(), nil
}

// nativeAmount rescales a canonical 18-decimal amount to the mint's
// decimals, truncating toward zero
func (e *solanaExecutor) nativeAmount(ctx context.Context, mint solanago.PublicKey, canonical *big.Int) (uint64, error) {
	decimals, err := e.bridge.GetMintDecimals(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to read decimals of %s: %w", mint, err)
	}

	amount, err := normalize.FromCanonical(canonical, decimals)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s overflows u64", ErrInvalidJob, amount)
	}
	return amount.Uint64(), nil
}

func decodeSignatures(signatures []string) ([][]byte, error) {
	out := make([][]byte, 0, len(signatures))
	for i, sig := range signatures {
		raw, err := hexutil.Decode(sig)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrInvalidJob, i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

// RegistryExecutors resolves executors from the chain client registry
type RegistryExecutors struct {
	registry *blockchain.Registry
}

// NewRegistryExecutors creates an executor source over registry
func NewRegistryExecutors(registry *blockchain.Registry) *RegistryExecutors {
	return &RegistryExecutors{registry: registry}
}

// Executor returns the executor for a destination chain
func (r *RegistryExecutors) Executor(chainID uint64) (Executor, error) {
	chainType, err := r.registry.ChainType(chainID)
	if err != nil {
		return nil, err
	}

	switch chainType {
	case types.ChainTypeEVM:
		client, err := r.registry.EVM(chainID)
		if err != nil {
			return nil, err
		}
		return NewEVMExecutor(client), nil
	case types.ChainTypeSolana:
		client, err := r.registry.Solana(chainID)
		if err != nil {
			return nil, err
		}
		return NewSolanaExecutor(client), nil
	}
	return nil, fmt.Errorf("unsupported chain type %s for chain %d", chainType, chainID)
}
