package types

import (
	"errors"
	"testing"
)

func testTable(t *testing.T) *TokenTable {
	t.Helper()
	table, err := NewTokenTable([]TokenConfig{
		{
			OriginChainID: 1,
			Token:         "0xAbC0000000000000000000000000000000000001",
			Wrapped:       map[string]string{"56": "0xWrapped56", "1399811149": "WrapMint111"},
		},
		{
			OriginChainID: 56,
			Token:         "0xwrapped56",
			Native:        map[string]string{"1": "0xAbC0000000000000000000000000000000000001"},
		},
		{
			OriginChainID: 1399811149,
			Token:         "So11111111111111111111111111111111111111112",
			Wrapped:       map[string]string{"1": "0xWrappedSol"},
		},
	})
	if err != nil {
		t.Fatalf("Failed to build token table: %v", err)
	}
	return table
}

func TestTokenTable_ResolveLock(t *testing.T) {
	table := testTable(t)

	got, err := table.Resolve(1, "0xabc0000000000000000000000000000000000001", DirectionLock, 56)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "0xWrapped56" {
		t.Errorf("Expected 0xWrapped56, got %s", got)
	}
}

func TestTokenTable_ResolveBurn(t *testing.T) {
	table := testTable(t)

	got, err := table.Resolve(56, "0xWRAPPED56", DirectionBurn, 1)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "0xAbC0000000000000000000000000000000000001" {
		t.Errorf("Unexpected native token %s", got)
	}
}

func TestTokenTable_Base58IsCaseSensitive(t *testing.T) {
	table := testTable(t)

	if _, err := table.Resolve(1399811149, "So11111111111111111111111111111111111111112", DirectionLock, 1); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	_, err := table.Resolve(1399811149, "so11111111111111111111111111111111111111112", DirectionLock, 1)
	if !errors.Is(err, ErrTokenNotConfigured) {
		t.Errorf("Expected ErrTokenNotConfigured, got %v", err)
	}
}

func TestTokenTable_MissingRoute(t *testing.T) {
	table := testTable(t)

	tests := []struct {
		name      string
		chainID   uint64
		token     string
		direction Direction
		dest      uint64
	}{
		{"unknown token", 1, "0xdead", DirectionLock, 56},
		{"unknown destination", 1, "0xabc0000000000000000000000000000000000001", DirectionLock, 137},
		{"wrong direction", 1, "0xabc0000000000000000000000000000000000001", DirectionBurn, 56},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Resolve(tt.chainID, tt.token, tt.direction, tt.dest)
			if !errors.Is(err, ErrTokenNotConfigured) {
				t.Errorf("Expected ErrTokenNotConfigured, got %v", err)
			}
		})
	}
}

func TestNetworks_Get(t *testing.T) {
	networks, err := NewNetworks([]ChainConfig{
		{Name: "ethereum", ChainType: ChainTypeEVM, ChainID: 1, Enabled: true},
		{Name: "bsc", ChainType: ChainTypeEVM, ChainID: 56, Enabled: true},
		{Name: "polygon", ChainType: ChainTypeEVM, ChainID: 137, Enabled: false},
	})
	if err != nil {
		t.Fatalf("NewNetworks failed: %v", err)
	}

	if chain, err := networks.Get(56); err != nil || chain.Name != "bsc" {
		t.Errorf("Expected bsc, got %v (%v)", chain, err)
	}
	if _, err := networks.Get(137); !errors.Is(err, ErrNetworkNotConfigured) {
		t.Errorf("Disabled chain should not be registered, got %v", err)
	}
	if got := len(networks.OfType(ChainTypeEVM)); got != 2 {
		t.Errorf("Expected 2 EVM networks, got %d", got)
	}
}

func TestNetworks_DuplicateChainID(t *testing.T) {
	_, err := NewNetworks([]ChainConfig{
		{Name: "a", ChainID: 1, Enabled: true},
		{Name: "b", ChainID: 1, Enabled: true},
	})
	if err == nil {
		t.Error("Expected duplicate chain id error")
	}
}
