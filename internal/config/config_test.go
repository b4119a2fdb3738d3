package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
)

const testConfig = `
environment: testnet
app:
  murmur3_seed: 123
chains:
  - name: sepolia
    chain_type: EVM
    chain_id: 11155111
    rpc_endpoints: ["https://rpc.sepolia.example"]
    ws_endpoint: "wss://ws.sepolia.example"
    bridge_contract: "0x0000000000000000000000000000000000000b01"
    enabled: true
  - name: solana-devnet
    chain_type: SOLANA
    rpc_endpoints: ["https://api.devnet.solana.com"]
    ws_endpoint: "wss://api.devnet.solana.com"
    bridge_program: "11111111111111111111111111111111"
    enabled: true
tokens:
  - origin_chain_id: 11155111
    token: "0x00000000000000000000000000000000000000A1"
    wrapped:
      "1399811149": "So11111111111111111111111111111111111111112"
wallet:
  evm_private_key: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
  solana_private_key: "4Z7cXSyeFR8wNGMVXUE1TwtKn5D5Vu7FzEv69dokLv7KrQk7h6pu4LF8ZRR9yQBhc7uSM6RTTZtU1fmaxiNrxXrs"
history:
  address: "localhost:5000"
  password: "secret"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.App.Murmur3Seed != 123 {
		t.Errorf("Expected seed 123, got %d", cfg.App.Murmur3Seed)
	}
	if cfg.Queue.Attempts != 3 {
		t.Errorf("Expected default queue attempts 3, got %d", cfg.Queue.Attempts)
	}
	if got := Duration(cfg.Queue.BackoffDelay, 0); got != time.Second {
		t.Errorf("Expected default backoff delay 1s, got %v", got)
	}
	if cfg.Redis.MaxRetries != 10 {
		t.Errorf("Expected default redis max retries 10, got %d", cfg.Redis.MaxRetries)
	}

	solana := cfg.GetSolanaChains()
	if len(solana) != 1 {
		t.Fatalf("Expected 1 Solana chain, got %d", len(solana))
	}
	if solana[0].ChainID != DefaultSolanaChainID {
		t.Errorf("Solana chain should default to sentinel chain id, got %d", solana[0].ChainID)
	}
	if solana[0].Commitment != "finalized" {
		t.Errorf("Expected finalized commitment, got %s", solana[0].Commitment)
	}

	if len(cfg.Tokens) != 1 || cfg.Tokens[0].Wrapped["1399811149"] != "So11111111111111111111111111111111111111112" {
		t.Errorf("Token routes not loaded: %+v", cfg.Tokens)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("BRIDGE_HISTORY_PASSWORD", "from-env")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.History.Password != "from-env" {
		t.Errorf("Expected env override, got %s", cfg.History.Password)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: types.EnvironmentTestnet,
			Chains: []types.ChainConfig{{
				Name:           "sepolia",
				ChainType:      types.ChainTypeEVM,
				ChainID:        11155111,
				RPCEndpoints:   []string{"http://localhost:8545"},
				WSEndpoint:     "ws://localhost:8546",
				BridgeContract: "0x01",
				Enabled:        true,
			}},
			Wallet:  WalletConfig{EVMPrivateKey: "0x01"},
			Redis:   RedisConfig{Host: "localhost", Port: 6379},
			Queue:   QueueConfig{URLs: []string{"nats://localhost:4222"}, Attempts: 3},
			Relayer: RelayerConfig{Workers: 1, AggregatorConcurrency: 1},
			History: HistoryConfig{Address: "localhost:5000"},
		}
	}

	if err := ValidateConfig(valid()); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no chains", func(c *Config) { c.Chains = nil }},
		{"evm without chain id", func(c *Config) { c.Chains[0].ChainID = 0 }},
		{"evm without bridge", func(c *Config) { c.Chains[0].BridgeContract = "" }},
		{"missing ws endpoint", func(c *Config) { c.Chains[0].WSEndpoint = "" }},
		{"unknown chain type", func(c *Config) { c.Chains[0].ChainType = "NEAR" }},
		{"no wallet", func(c *Config) { c.Wallet = WalletConfig{} }},
		{"no redis", func(c *Config) { c.Redis.Host = "" }},
		{"zero attempts", func(c *Config) { c.Queue.Attempts = 0 }},
		{"too many workers", func(c *Config) { c.Relayer.Workers = 51 }},
		{"no history", func(c *Config) { c.History.Address = "" }},
		{"solana without key", func(c *Config) {
			c.Chains = append(c.Chains, types.ChainConfig{
				Name:          "solana",
				ChainType:     types.ChainTypeSolana,
				RPCEndpoints:  []string{"http://localhost:8899"},
				WSEndpoint:    "ws://localhost:8900",
				BridgeProgram: "11111111111111111111111111111111",
				Enabled:       true,
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
