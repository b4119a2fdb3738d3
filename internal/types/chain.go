package types

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ChainType represents the blockchain architecture
type ChainType string

const (
	ChainTypeEVM    ChainType = "EVM"
	ChainTypeSolana ChainType = "SOLANA"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentTestnet     Environment = "testnet"
	EnvironmentMainnet     Environment = "mainnet"
)

var (
	// ErrNetworkNotConfigured is returned when no network is registered for a chain ID.
	ErrNetworkNotConfigured = errors.New("network not configured")

	// ErrTokenNotConfigured is returned when the token table has no route for an event.
	ErrTokenNotConfigured = errors.New("token not configured")
)

// ChainConfig represents the configuration for a blockchain network
type ChainConfig struct {
	Name                 string    `mapstructure:"name"`
	ChainType            ChainType `mapstructure:"chain_type"`
	ChainID              uint64    `mapstructure:"chain_id"`
	RPCEndpoints         []string  `mapstructure:"rpc_endpoints"`
	WSEndpoint           string    `mapstructure:"ws_endpoint"`
	BridgeContract       string    `mapstructure:"bridge_contract"`
	BridgeProgram        string    `mapstructure:"bridge_program"`
	Commitment           string    `mapstructure:"commitment"`
	ReconnectInterval    string    `mapstructure:"reconnect_interval"`
	KeepAliveInterval    string    `mapstructure:"keep_alive_interval"`
	MaxReconnectAttempts uint64    `mapstructure:"max_reconnect_attempts"`
	ConfirmationTimeout  string    `mapstructure:"confirmation_timeout"`
	MaxGasPrice          string    `mapstructure:"max_gas_price"`
	GasLimitMultiplier   float64   `mapstructure:"gas_limit_multiplier"`
	Enabled              bool      `mapstructure:"enabled"`
}

// RPCEndpoint returns the primary RPC endpoint
func (c *ChainConfig) RPCEndpoint() string {
	if len(c.RPCEndpoints) == 0 {
		return ""
	}
	return c.RPCEndpoints[0]
}

// GetReconnectIntervalDuration returns the fixed delay between reconnect attempts
func (c *ChainConfig) GetReconnectIntervalDuration() time.Duration {
	return parseDurationOr(c.ReconnectInterval, 5*time.Second)
}

// GetKeepAliveIntervalDuration returns the liveness probe interval
func (c *ChainConfig) GetKeepAliveIntervalDuration() time.Duration {
	return parseDurationOr(c.KeepAliveInterval, 60*time.Second)
}

// GetConfirmationTimeoutDuration returns how long an executor waits for finality
func (c *ChainConfig) GetConfirmationTimeoutDuration() time.Duration {
	return parseDurationOr(c.ConfirmationTimeout, 2*time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Networks is the immutable chain ID lookup resolved once at startup.
type Networks struct {
	byID map[uint64]*ChainConfig
	ids  []uint64
}

// NewNetworks indexes the enabled chains by chain ID
func NewNetworks(chains []ChainConfig) (*Networks, error) {
	n := &Networks{byID: make(map[uint64]*ChainConfig, len(chains))}

	for i := range chains {
		chain := chains[i]
		if !chain.Enabled {
			continue
		}
		if _, exists := n.byID[chain.ChainID]; exists {
			return nil, fmt.Errorf("duplicate chain id %d (%s)", chain.ChainID, chain.Name)
		}
		n.byID[chain.ChainID] = &chain
		n.ids = append(n.ids, chain.ChainID)
	}

	sort.Slice(n.ids, func(i, j int) bool { return n.ids[i] < n.ids[j] })
	return n, nil
}

// Get returns the network registered for chainID
func (n *Networks) Get(chainID uint64) (*ChainConfig, error) {
	chain, ok := n.byID[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain id %d", ErrNetworkNotConfigured, chainID)
	}
	return chain, nil
}

// All returns every network ordered by chain ID
func (n *Networks) All() []*ChainConfig {
	out := make([]*ChainConfig, 0, len(n.ids))
	for _, id := range n.ids {
		out = append(out, n.byID[id])
	}
	return out
}

// OfType returns the networks of the given chain type ordered by chain ID
func (n *Networks) OfType(chainType ChainType) []*ChainConfig {
	var out []*ChainConfig
	for _, chain := range n.All() {
		if chain.ChainType == chainType {
			out = append(out, chain)
		}
	}
	return out
}
