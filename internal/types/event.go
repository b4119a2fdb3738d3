package types

import (
	"fmt"
	"math/big"
)

// Direction is the kind of origin-chain event being relayed
type Direction string

const (
	// DirectionLock mirrors locked native tokens as wrapped tokens on the destination.
	DirectionLock Direction = "lock"
	// DirectionBurn releases native tokens after wrapped tokens were burned.
	DirectionBurn Direction = "burn"
)

// BridgeEvent is the chain-agnostic shape every watcher emits
type BridgeEvent struct {
	OriginChainID      uint64
	Direction          Direction
	Sender             string
	OriginToken        string
	DestinationToken   string
	Amount             *big.Int // origin chain native decimals
	DestinationChainID uint64
	DestinationAddress string
	TxHash             string
}

// SettlementJob is the payload carried through the job queue
type SettlementJob struct {
	MessageID               string    `json:"message"`
	Direction               Direction `json:"type"`
	Recipient               string    `json:"recipient"`
	OriginTokenAddress      string    `json:"originTokenAddress"`
	DestinationTokenAddress string    `json:"destinationTokenAddress"`
	Amount                  string    `json:"amount"`
	DestinationChainID      uint64    `json:"destinationChainId"`
	OriginChainID           uint64    `json:"originChainId"`
}

// AmountInt parses the decimal amount
func (j *SettlementJob) AmountInt() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(j.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid job amount %q", j.Amount)
	}
	return amount, nil
}
