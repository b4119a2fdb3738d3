package relayer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/solana"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testReceiver = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

var testSignature = "0x" + strings.Repeat("ab", 65)

type fakeEVMBridge struct {
	method  string
	req     *evm.SettlementRequest
	err     error
	receipt *ethtypes.Receipt
}

func (b *fakeEVMBridge) MintWrappedTokens(ctx context.Context, req *evm.SettlementRequest) (*ethtypes.Receipt, error) {
	return b.settle("mintWrappedTokens", req)
}

func (b *fakeEVMBridge) UnlockTokens(ctx context.Context, req *evm.SettlementRequest) (*ethtypes.Receipt, error) {
	return b.settle("unlockTokens", req)
}

func (b *fakeEVMBridge) settle(method string, req *evm.SettlementRequest) (*ethtypes.Receipt, error) {
	b.method = method
	b.req = req
	if b.err != nil {
		return b.receipt, b.err
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: common.HexToHash("0xfeed")}, nil
}

type fakeSolanaBridge struct {
	decimals uint8
	method   string
	req      *solana.SettlementRequest
	err      error
	sent     solanago.Signature
}

func (b *fakeSolanaBridge) GetMintDecimals(ctx context.Context, mint solanago.PublicKey) (uint8, error) {
	return b.decimals, nil
}

func (b *fakeSolanaBridge) MintWrapped(ctx context.Context, req *solana.SettlementRequest) (solanago.Signature, error) {
	b.method = "mint_wrapped"
	b.req = req
	if b.err != nil {
		return b.sent, b.err
	}
	return solanago.Signature{1}, nil
}

func (b *fakeSolanaBridge) Unlock(ctx context.Context, req *solana.SettlementRequest) (solanago.Signature, error) {
	b.method = "unlock"
	b.req = req
	if b.err != nil {
		return b.sent, b.err
	}
	return solanago.Signature{2}, nil
}

func evmJob(dir types.Direction) *types.SettlementJob {
	return &types.SettlementJob{
		MessageID:               "613153351",
		Direction:               dir,
		Recipient:               "0x00000000000000000000000000000000000000000000000000000000000000cc",
		OriginTokenAddress:      testMint,
		DestinationTokenAddress: "0x2222222222222222222222222222222222222222",
		Amount:                  "1000",
		DestinationChainID:      56,
		OriginChainID:           1399811149,
	}
}

func TestEVMExecutor_LockMintsWrapped(t *testing.T) {
	bridge := &fakeEVMBridge{}
	txHash, err := NewEVMExecutor(bridge).Settle(context.Background(), evmJob(types.DirectionLock), []string{testSignature})
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash("0xfeed").Hex(), txHash)
	assert.Equal(t, "mintWrappedTokens", bridge.method)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000cc"), bridge.req.To)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), bridge.req.Token)
	assert.Equal(t, big.NewInt(1000), bridge.req.Amount)
	assert.Equal(t, []byte("613153351"), bridge.req.Message)
	require.Len(t, bridge.req.Signatures, 1)
	assert.Len(t, bridge.req.Signatures[0], 65)
}

func TestEVMExecutor_BurnUnlocks(t *testing.T) {
	bridge := &fakeEVMBridge{}
	_, err := NewEVMExecutor(bridge).Settle(context.Background(), evmJob(types.DirectionBurn), []string{testSignature})
	require.NoError(t, err)
	assert.Equal(t, "unlockTokens", bridge.method)
}

func TestEVMExecutor_Errors(t *testing.T) {
	bridge := &fakeEVMBridge{}
	exec := NewEVMExecutor(bridge)

	job := evmJob(types.DirectionLock)
	job.DestinationTokenAddress = testMint
	_, err := exec.Settle(context.Background(), job, []string{testSignature})
	assert.ErrorIs(t, err, ErrInvalidJob)

	_, err = exec.Settle(context.Background(), evmJob(types.DirectionLock), []string{"not-hex"})
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Empty(t, bridge.method)

	bridge.err = evm.ErrTransactionFailed
	_, err = exec.Settle(context.Background(), evmJob(types.DirectionLock), []string{testSignature})
	assert.ErrorIs(t, err, evm.ErrTransactionFailed)
}

func TestEVMExecutor_UnconfirmedReturnsTxHash(t *testing.T) {
	timeout := errors.New("timeout waiting for receipt")
	bridge := &fakeEVMBridge{
		err:     timeout,
		receipt: &ethtypes.Receipt{TxHash: common.HexToHash("0xbeef")},
	}

	txHash, err := NewEVMExecutor(bridge).Settle(context.Background(), evmJob(types.DirectionLock), []string{testSignature})
	require.ErrorIs(t, err, timeout)
	assert.Equal(t, common.HexToHash("0xbeef").Hex(), txHash)

	// nothing was sent
	bridge.receipt = nil
	txHash, err = NewEVMExecutor(bridge).Settle(context.Background(), evmJob(types.DirectionLock), []string{testSignature})
	require.ErrorIs(t, err, timeout)
	assert.Empty(t, txHash)
}

func solanaJob(dir types.Direction, amount string) *types.SettlementJob {
	return &types.SettlementJob{
		MessageID:               "613153351",
		Direction:               dir,
		Recipient:               testReceiver,
		OriginTokenAddress:      "0x2222222222222222222222222222222222222222",
		DestinationTokenAddress: testMint,
		Amount:                  amount,
		DestinationChainID:      1399811149,
		OriginChainID:           1,
	}
}

func TestSolanaExecutor_BurnRescalesToMintDecimals(t *testing.T) {
	bridge := &fakeSolanaBridge{decimals: 6}

	sig, err := NewSolanaExecutor(bridge).Settle(context.Background(), solanaJob(types.DirectionBurn, "1000000000000"), []string{testSignature})
	require.NoError(t, err)

	assert.Equal(t, solanago.Signature{2}.String(), sig)
	assert.Equal(t, "unlock", bridge.method)
	assert.Equal(t, uint64(1), bridge.req.Amount)
	assert.Equal(t, solanago.MustPublicKeyFromBase58(testMint), bridge.req.Mint)
	assert.Equal(t, solanago.MustPublicKeyFromBase58(testReceiver), bridge.req.Receiver)
	assert.Equal(t, []byte("613153351"), bridge.req.Message)
}

func TestSolanaExecutor_TruncatesDust(t *testing.T) {
	bridge := &fakeSolanaBridge{decimals: 6}
	exec := &solanaExecutor{bridge: bridge}

	for _, tc := range []struct {
		canonical string
		want      uint64
	}{
		{"1000000", 0},
		{"999999999999", 0},
		{"1999999999999", 1},
		{"2500000000000000000", 2_500_000},
	} {
		amount, _ := new(big.Int).SetString(tc.canonical, 10)
		got, err := exec.nativeAmount(context.Background(), solanago.MustPublicKeyFromBase58(testMint), amount)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.canonical)
	}
}

func TestSolanaExecutor_LockMintsWrappedForHexRecipient(t *testing.T) {
	bridge := &fakeSolanaBridge{decimals: 9}
	job := solanaJob(types.DirectionLock, "1000000000000000000")
	job.Recipient = "0x" + strings.Repeat("01", 32)

	_, err := NewSolanaExecutor(bridge).Settle(context.Background(), job, []string{testSignature})
	require.NoError(t, err)

	assert.Equal(t, "mint_wrapped", bridge.method)
	assert.Equal(t, uint64(1_000_000_000), bridge.req.Amount)
	var want solanago.PublicKey
	for i := range want {
		want[i] = 1
	}
	assert.Equal(t, want, bridge.req.Receiver)
}

func TestSolanaExecutor_AmountOverflow(t *testing.T) {
	bridge := &fakeSolanaBridge{decimals: 18}
	_, err := NewSolanaExecutor(bridge).Settle(context.Background(), solanaJob(types.DirectionBurn, "100000000000000000000"), []string{testSignature})
	require.ErrorIs(t, err, ErrInvalidJob)
	assert.Empty(t, bridge.method)
}

func TestSolanaExecutor_InvalidMint(t *testing.T) {
	job := solanaJob(types.DirectionBurn, "1")
	job.DestinationTokenAddress = "0x2222222222222222222222222222222222222222"
	_, err := NewSolanaExecutor(&fakeSolanaBridge{}).Settle(context.Background(), job, nil)
	require.True(t, errors.Is(err, ErrInvalidJob))
}

func TestSolanaExecutor_UnconfirmedReturnsSignature(t *testing.T) {
	timeout := errors.New("timeout waiting for finalization")
	bridge := &fakeSolanaBridge{decimals: 6, err: timeout, sent: solanago.Signature{7}}

	sig, err := NewSolanaExecutor(bridge).Settle(context.Background(), solanaJob(types.DirectionBurn, "1000000000000"), []string{testSignature})
	require.ErrorIs(t, err, timeout)
	assert.Equal(t, solanago.Signature{7}.String(), sig)

	bridge.sent = solanago.Signature{}
	sig, err = NewSolanaExecutor(bridge).Settle(context.Background(), solanaJob(types.DirectionBurn, "1000000000000"), []string{testSignature})
	require.ErrorIs(t, err, timeout)
	assert.Empty(t, sig)
}
