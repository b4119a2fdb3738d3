package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// BridgeABI is the subset of the bridge contract the relayer talks to
const BridgeABI = `[
	{"type":"function","name":"mintWrappedTokens","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"token","type":"address"},
		{"name":"message","type":"bytes"},
		{"name":"signatures","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"unlockTokens","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"to","type":"address"},
		{"name":"token","type":"address"},
		{"name":"message","type":"bytes"},
		{"name":"signatures","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"getThreshold","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"TokensLocked","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"destinationChainId","type":"uint256","indexed":false},
		{"name":"destinationAddress","type":"bytes","indexed":false}]},
	{"type":"event","name":"WrappedTokensBurned","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"destinationChainId","type":"uint256","indexed":false},
		{"name":"destinationAddress","type":"bytes","indexed":false}]}
]`

const (
	EventTokensLocked        = "TokensLocked"
	EventWrappedTokensBurned = "WrappedTokensBurned"

	methodMintWrappedTokens = "mintWrappedTokens"
	methodUnlockTokens      = "unlockTokens"
	methodGetThreshold      = "getThreshold"
)

var parsedBridgeABI = mustParseABI(BridgeABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid bridge ABI: %v", err))
	}
	return parsed
}

// BridgeEvent is a decoded TokensLocked or WrappedTokensBurned log.
// Both events share the same field layout.
type BridgeEvent struct {
	Name               string
	User               common.Address
	Token              common.Address
	Amount             *big.Int
	DestinationChainId *big.Int
	DestinationAddress []byte
	Raw                ethtypes.Log
}

// Bridge is a typed binding of the bridge contract
type Bridge struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewBridge binds the bridge contract at address to backend
func NewBridge(address common.Address, backend bind.ContractBackend) *Bridge {
	return &Bridge{
		address:  address,
		contract: bind.NewBoundContract(address, parsedBridgeABI, backend, backend, backend),
	}
}

// Address returns the contract address
func (b *Bridge) Address() common.Address {
	return b.address
}

// GetThreshold reads the signature threshold from governance state
func (b *Bridge) GetThreshold(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, methodGetThreshold); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected getThreshold output length %d", len(out))
	}
	threshold, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getThreshold output type %T", out[0])
	}
	return threshold, nil
}

// MintWrappedTokens submits a mintWrappedTokens transaction
func (b *Bridge) MintWrappedTokens(opts *bind.TransactOpts, req *SettlementRequest) (*ethtypes.Transaction, error) {
	return b.contract.Transact(opts, methodMintWrappedTokens, req.Amount, req.To, req.Token, req.Message, req.Signatures)
}

// UnlockTokens submits an unlockTokens transaction
func (b *Bridge) UnlockTokens(opts *bind.TransactOpts, req *SettlementRequest) (*ethtypes.Transaction, error) {
	return b.contract.Transact(opts, methodUnlockTokens, req.Amount, req.To, req.Token, req.Message, req.Signatures)
}

// PackSettlement returns the calldata for a settlement method
func PackSettlement(method string, req *SettlementRequest) ([]byte, error) {
	return parsedBridgeABI.Pack(method, req.Amount, req.To, req.Token, req.Message, req.Signatures)
}

// WatchBridgeEvents streams one bridge event kind into sink until the
// subscription is closed. Logs dropped by a chain reorg are skipped.
func (b *Bridge) WatchBridgeEvents(opts *bind.WatchOpts, name string, sink chan<- *BridgeEvent) (event.Subscription, error) {
	logs, sub, err := b.contract.WatchLogs(opts, name)
	if err != nil {
		return nil, err
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				if log.Removed {
					continue
				}
				ev, err := b.UnpackBridgeEvent(name, log)
				if err != nil {
					return err
				}
				select {
				case sink <- ev:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// UnpackBridgeEvent decodes a raw log of the named event
func (b *Bridge) UnpackBridgeEvent(name string, log ethtypes.Log) (*BridgeEvent, error) {
	ev := &BridgeEvent{Name: name}
	if err := b.contract.UnpackLog(ev, name, log); err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
	}
	ev.Raw = log
	return ev, nil
}

// SettlementRequest carries the arguments of mintWrappedTokens/unlockTokens
type SettlementRequest struct {
	Amount     *big.Int
	To         common.Address
	Token      common.Address
	Message    []byte
	Signatures [][]byte
}
