package solana

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"
)

// SignatureLength is the size of an EVM personal_sign signature
const SignatureLength = 65

// Anchor discriminators
var (
	unlockDiscriminator      = anchorDiscriminator("global:unlock")
	mintWrappedDiscriminator = anchorDiscriminator("global:mint_wrapped")

	TokensLockedDiscriminator = anchorDiscriminator("event:TokensLocked")
	TokensBurnedDiscriminator = anchorDiscriminator("event:TokensBurned")
)

// ErrUnknownEvent is returned for program data that is not a bridge event
var ErrUnknownEvent = errors.New("unknown program event")

const programDataPrefix = "Program data: "

func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// EventKind distinguishes the two bridge program events
type EventKind int

const (
	EventTokensLocked EventKind = iota
	EventTokensBurned
)

func (k EventKind) String() string {
	if k == EventTokensLocked {
		return "TokensLocked"
	}
	return "TokensBurned"
}

// ProgramEvent is the common borsh layout of TokensLocked and TokensBurned
type ProgramEvent struct {
	Amount             uint64
	Mint               solana.PublicKey
	DestinationChain   uint32
	DestinationAddress string
}

// DecodedEvent is a program event tagged with its kind
type DecodedEvent struct {
	Kind EventKind
	ProgramEvent
}

// DecodeEvent decodes one base64 "Program data" payload
func DecodeEvent(data []byte) (*DecodedEvent, error) {
	if len(data) < 8 {
		return nil, ErrUnknownEvent
	}

	var disc [8]byte
	copy(disc[:], data[:8])

	var kind EventKind
	switch disc {
	case TokensLockedDiscriminator:
		kind = EventTokensLocked
	case TokensBurnedDiscriminator:
		kind = EventTokensBurned
	default:
		return nil, ErrUnknownEvent
	}

	var ev ProgramEvent
	if err := borsh.Deserialize(&ev, data[8:]); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", kind, err)
	}

	return &DecodedEvent{Kind: kind, ProgramEvent: ev}, nil
}

// ParseLogs extracts every bridge event from a transaction's log lines.
// Data lines emitted by other programs are skipped.
func ParseLogs(logs []string) ([]*DecodedEvent, error) {
	var events []*DecodedEvent
	for _, line := range logs {
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
		if err != nil {
			continue
		}
		ev, err := DecodeEvent(raw)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// EncodeEvent renders an event as it appears in program data. Used to
// build fixtures.
func EncodeEvent(kind EventKind, ev ProgramEvent) ([]byte, error) {
	body, err := borsh.Serialize(ev)
	if err != nil {
		return nil, err
	}
	disc := TokensLockedDiscriminator
	if kind == EventTokensBurned {
		disc = TokensBurnedDiscriminator
	}
	return append(disc[:], body...), nil
}

// BridgeConfig is the on-chain bridge configuration account
type BridgeConfig struct {
	Admin     solana.PublicKey
	Threshold uint8
}

// DecodeBridgeConfig decodes the account data of the BridgeConf PDA
func DecodeBridgeConfig(data []byte) (*BridgeConfig, error) {
	if len(data) < 8+32+1 {
		return nil, fmt.Errorf("bridge config account too short: %d bytes", len(data))
	}
	var cfg BridgeConfig
	if err := borsh.Deserialize(&cfg, data[8:8+32+1]); err != nil {
		return nil, fmt.Errorf("failed to decode bridge config: %w", err)
	}
	return &cfg, nil
}

type unlockArgs struct {
	TokenMint  solana.PublicKey
	Amount     uint64
	Message    []byte
	Signatures [][SignatureLength]byte
}

type mintWrappedArgs struct {
	Amount              uint64
	To                  solana.PublicKey
	WrappedTokenAddress solana.PublicKey
	Message             []byte
	Signatures          [][SignatureLength]byte
}

// SettlementRequest carries the arguments of unlock/mint_wrapped
type SettlementRequest struct {
	Mint       solana.PublicKey
	Receiver   solana.PublicKey
	Amount     uint64 // mint native decimals
	Message    []byte
	Signatures [][]byte
}

func fixedSignatures(sigs [][]byte) ([][SignatureLength]byte, error) {
	out := make([][SignatureLength]byte, len(sigs))
	for i, sig := range sigs {
		if len(sig) != SignatureLength {
			return nil, fmt.Errorf("signature %d has %d bytes, want %d", i, len(sig), SignatureLength)
		}
		copy(out[i][:], sig)
	}
	return out, nil
}

func usedSignatureMetas(program solana.PublicKey, sigs [][]byte) (solana.AccountMetaSlice, error) {
	metas := make(solana.AccountMetaSlice, 0, len(sigs))
	for _, sig := range sigs {
		pda, err := UsedSignaturePDA(program, sig)
		if err != nil {
			return nil, err
		}
		metas = append(metas, solana.Meta(pda).WRITE())
	}
	return metas, nil
}

// Accounts shared by the settlement instructions
type settlementAccounts struct {
	payer        solana.PublicKey
	bridgeConfig solana.PublicKey
	splVault     solana.PublicKey
}

func deriveSettlementAccounts(program, payer solana.PublicKey) (*settlementAccounts, error) {
	bridgeConfig, err := BridgeConfigPDA(program)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bridge config: %w", err)
	}
	splVault, err := SPLVaultPDA(program)
	if err != nil {
		return nil, fmt.Errorf("failed to derive spl vault: %w", err)
	}
	return &settlementAccounts{payer: payer, bridgeConfig: bridgeConfig, splVault: splVault}, nil
}

// NewUnlockInstruction builds the program's unlock instruction
func NewUnlockInstruction(program, payer solana.PublicKey, req *SettlementRequest) (*solana.GenericInstruction, error) {
	accts, err := deriveSettlementAccounts(program, payer)
	if err != nil {
		return nil, err
	}
	sigs, err := fixedSignatures(req.Signatures)
	if err != nil {
		return nil, err
	}

	vaultATA, _, err := solana.FindAssociatedTokenAddress(accts.splVault, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault token account: %w", err)
	}
	userATA, _, err := solana.FindAssociatedTokenAddress(req.Receiver, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive receiver token account: %w", err)
	}

	data, err := borsh.Serialize(unlockArgs{
		TokenMint:  req.Mint,
		Amount:     req.Amount,
		Message:    req.Message,
		Signatures: sigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode unlock args: %w", err)
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(accts.payer).SIGNER().WRITE(),
		solana.Meta(req.Mint),
		solana.Meta(accts.splVault),
		solana.Meta(accts.bridgeConfig),
		solana.Meta(vaultATA).WRITE(),
		solana.Meta(userATA).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	used, err := usedSignatureMetas(program, req.Signatures)
	if err != nil {
		return nil, err
	}
	metas = append(metas, used...)

	return solana.NewInstruction(program, metas, append(unlockDiscriminator[:], data...)), nil
}

// NewMintWrappedInstruction builds the program's mint_wrapped instruction
func NewMintWrappedInstruction(program, payer solana.PublicKey, req *SettlementRequest) (*solana.GenericInstruction, error) {
	accts, err := deriveSettlementAccounts(program, payer)
	if err != nil {
		return nil, err
	}
	sigs, err := fixedSignatures(req.Signatures)
	if err != nil {
		return nil, err
	}

	receiverATA, _, err := solana.FindAssociatedTokenAddress(req.Receiver, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive receiver token account: %w", err)
	}

	data, err := borsh.Serialize(mintWrappedArgs{
		Amount:              req.Amount,
		To:                  req.Receiver,
		WrappedTokenAddress: req.Mint,
		Message:             req.Message,
		Signatures:          sigs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode mint_wrapped args: %w", err)
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(accts.payer).SIGNER().WRITE(),
		solana.Meta(req.Receiver),
		solana.Meta(req.Mint).WRITE(),
		solana.Meta(receiverATA).WRITE(),
		solana.Meta(accts.splVault),
		solana.Meta(accts.bridgeConfig),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	used, err := usedSignatureMetas(program, req.Signatures)
	if err != nil {
		return nil, err
	}
	metas = append(metas, used...)

	return solana.NewInstruction(program, metas, append(mintWrappedDiscriminator[:], data...)), nil
}
