package types

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenConfig routes one origin token to its counterparts on other chains.
// Wrapped and Native are keyed by destination chain ID.
type TokenConfig struct {
	OriginChainID uint64            `mapstructure:"origin_chain_id"`
	Token         string            `mapstructure:"token"`
	Wrapped       map[string]string `mapstructure:"wrapped"`
	Native        map[string]string `mapstructure:"native"`
}

// TokenTable resolves destination tokens for lock and burn events
type TokenTable struct {
	routes map[string]TokenConfig
}

// NewTokenTable indexes the configured token routes
func NewTokenTable(tokens []TokenConfig) (*TokenTable, error) {
	t := &TokenTable{routes: make(map[string]TokenConfig, len(tokens))}
	for _, token := range tokens {
		if token.Token == "" {
			return nil, fmt.Errorf("token route for chain %d has no token", token.OriginChainID)
		}
		key := tokenKey(token.OriginChainID, token.Token)
		if _, exists := t.routes[key]; exists {
			return nil, fmt.Errorf("duplicate token route %s on chain %d", token.Token, token.OriginChainID)
		}
		t.routes[key] = token
	}
	return t, nil
}

// Resolve returns the destination token for an event. Lock events resolve
// through the wrapped table, burn events through the native table.
func (t *TokenTable) Resolve(originChainID uint64, token string, dir Direction, destinationChainID uint64) (string, error) {
	route, ok := t.routes[tokenKey(originChainID, token)]
	if !ok {
		return "", fmt.Errorf("%w: %s on chain %d", ErrTokenNotConfigured, token, originChainID)
	}

	var table map[string]string
	switch dir {
	case DirectionLock:
		table = route.Wrapped
	case DirectionBurn:
		table = route.Native
	default:
		return "", fmt.Errorf("unknown direction %q", dir)
	}

	destination, ok := table[strconv.FormatUint(destinationChainID, 10)]
	if !ok || destination == "" {
		return "", fmt.Errorf("%w: no %s route for %s from chain %d to chain %d",
			ErrTokenNotConfigured, dir, token, originChainID, destinationChainID)
	}
	return destination, nil
}

// hex addresses compare case-insensitively, base58 keys are case sensitive
func tokenKey(chainID uint64, token string) string {
	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		token = strings.ToLower(token)
	}
	return strconv.FormatUint(chainID, 10) + "/" + token
}
