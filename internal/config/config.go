package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	"github.com/spf13/viper"
)

// DefaultSolanaChainID is the sentinel chain ID bridge contracts use for Solana
const DefaultSolanaChainID uint64 = 1399811149

// Config represents the main application configuration
type Config struct {
	Environment types.Environment   `mapstructure:"environment"`
	App         AppConfig           `mapstructure:"app"`
	Server      ServerConfig        `mapstructure:"server"`
	Chains      []types.ChainConfig `mapstructure:"chains"`
	Tokens      []types.TokenConfig `mapstructure:"tokens"`
	Wallet      WalletConfig        `mapstructure:"wallet"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Queue       QueueConfig         `mapstructure:"queue"`
	Relayer     RelayerConfig       `mapstructure:"relayer"`
	History     HistoryConfig       `mapstructure:"history"`
	Database    DatabaseConfig      `mapstructure:"database"`
	Monitoring  MonitoringConfig    `mapstructure:"monitoring"`
}

// AppConfig holds the protocol parameters shared by every relayer instance
type AppConfig struct {
	InstanceName  string `mapstructure:"instance_name"`
	Murmur3Seed   uint32 `mapstructure:"murmur3_seed"`
	SolanaChainID uint64 `mapstructure:"solana_chain_id"`
}

// ServerConfig represents the ops HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// WalletConfig holds the relayer key material
type WalletConfig struct {
	EVMPrivateKey    string `mapstructure:"evm_private_key"`
	EVMKeystorePath  string `mapstructure:"evm_keystore_path"`
	PasswordEnvVar   string `mapstructure:"password_env_var"`
	SolanaPrivateKey string `mapstructure:"solana_private_key"`
}

// RedisConfig represents the signature store connection
type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	RetryDelay string `mapstructure:"retry_delay"`
	MaxRetries int    `mapstructure:"max_retries"`
	MaxDelay   string `mapstructure:"max_delay"`
}

// Addr returns host:port
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig represents the job queue configuration
type QueueConfig struct {
	URLs         []string `mapstructure:"urls"`
	StreamName   string   `mapstructure:"stream_name"`
	Subject      string   `mapstructure:"subject"`
	KVBucket     string   `mapstructure:"kv_bucket"`
	Consumer     string   `mapstructure:"consumer"`
	Attempts     int      `mapstructure:"attempts"`
	BackoffDelay string   `mapstructure:"backoff_delay"`
	AckWait      string   `mapstructure:"ack_wait"`
}

// RelayerConfig represents relayer configuration
type RelayerConfig struct {
	Workers               int `mapstructure:"workers"`
	AggregatorConcurrency int `mapstructure:"aggregator_concurrency"`
}

// HistoryConfig represents the transaction-history gRPC collaborator
type HistoryConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Timeout  string `mapstructure:"timeout"`
	Insecure bool   `mapstructure:"insecure"`
}

// DatabaseConfig represents the settlement journal database.
// The journal is disabled when Host is empty.
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Database     string `mapstructure:"database"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxLifetime  string `mapstructure:"max_lifetime"`
}

// Enabled reports whether the settlement journal is configured
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		env := os.Getenv("BRIDGE_ENVIRONMENT")
		if env == "" {
			env = "development"
		}
		configPath = getConfigPathForEnv(env)
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	// Allow environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(types.EnvironmentDevelopment))
	v.SetDefault("app.instance_name", "relayer")
	v.SetDefault("app.solana_chain_id", DefaultSolanaChainID)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.retry_delay", "5s")
	v.SetDefault("redis.max_retries", 10)
	v.SetDefault("redis.max_delay", "30s")

	v.SetDefault("queue.urls", []string{"nats://localhost:4222"})
	v.SetDefault("queue.stream_name", "BRIDGE_JOBS")
	v.SetDefault("queue.subject", "bridge.jobs")
	v.SetDefault("queue.kv_bucket", "bridge_jobs")
	v.SetDefault("queue.consumer", "bridge-relayer")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_delay", "1s")
	v.SetDefault("queue.ack_wait", "2m")

	v.SetDefault("relayer.workers", 4)
	v.SetDefault("relayer.aggregator_concurrency", 8)

	v.SetDefault("history.timeout", "10s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("monitoring.log_level", "info")
}

// getConfigPathForEnv returns the config file path for the given environment
func getConfigPathForEnv(env string) string {
	switch env {
	case "mainnet":
		return "config/config.mainnet.yaml"
	case "testnet":
		return "config/config.testnet.yaml"
	default:
		return "config/config.dev.yaml"
	}
}

// ValidateConfig validates the configuration and fills derived chain fields
func ValidateConfig(config *Config) error {
	if config.Environment == "" {
		return fmt.Errorf("environment must be specified")
	}

	if len(config.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	if config.App.SolanaChainID == 0 {
		config.App.SolanaChainID = DefaultSolanaChainID
	}

	for i := range config.Chains {
		if err := validateChainConfig(&config.Chains[i], config.App.SolanaChainID); err != nil {
			return fmt.Errorf("invalid chain config at index %d (%s): %w", i, config.Chains[i].Name, err)
		}
	}

	if config.Wallet.EVMPrivateKey == "" && config.Wallet.EVMKeystorePath == "" {
		return fmt.Errorf("wallet requires evm_private_key or evm_keystore_path")
	}
	if len(config.GetSolanaChains()) > 0 && config.Wallet.SolanaPrivateKey == "" {
		return fmt.Errorf("solana chains require wallet.solana_private_key")
	}

	if config.Redis.Host == "" {
		return fmt.Errorf("redis host must be specified")
	}
	if config.Redis.MaxRetries < 0 {
		return fmt.Errorf("redis max_retries must not be negative")
	}

	if len(config.Queue.URLs) == 0 {
		return fmt.Errorf("at least one queue url is required")
	}
	if config.Queue.Attempts < 1 {
		return fmt.Errorf("queue attempts must be at least 1")
	}

	if config.Relayer.Workers < 1 {
		return fmt.Errorf("relayer workers must be at least 1")
	}
	if config.Relayer.Workers > 50 {
		return fmt.Errorf("relayer workers should not exceed 50")
	}
	if config.Relayer.AggregatorConcurrency < 1 {
		return fmt.Errorf("relayer aggregator_concurrency must be at least 1")
	}

	if config.History.Address == "" {
		return fmt.Errorf("history address must be specified")
	}

	return nil
}

// validateChainConfig validates a single chain configuration
func validateChainConfig(chain *types.ChainConfig, solanaChainID uint64) error {
	if chain.Name == "" {
		return fmt.Errorf("chain name is required")
	}

	if len(chain.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}

	if chain.WSEndpoint == "" {
		return fmt.Errorf("ws_endpoint is required")
	}

	switch chain.ChainType {
	case types.ChainTypeEVM:
		if chain.ChainID == 0 {
			return fmt.Errorf("EVM chain must have chain_id")
		}
		if chain.BridgeContract == "" {
			return fmt.Errorf("EVM chain must have bridge_contract")
		}

	case types.ChainTypeSolana:
		if chain.BridgeProgram == "" {
			return fmt.Errorf("Solana chain must have bridge_program")
		}
		if chain.ChainID == 0 {
			chain.ChainID = solanaChainID
		}
		if chain.Commitment == "" {
			chain.Commitment = "finalized"
		}

	case "":
		return fmt.Errorf("chain type is required")

	default:
		return fmt.Errorf("unsupported chain type: %s", chain.ChainType)
	}

	return nil
}

// GetEVMChains returns all enabled EVM chain configurations
func (c *Config) GetEVMChains() []types.ChainConfig {
	return c.chainsOfType(types.ChainTypeEVM)
}

// GetSolanaChains returns all enabled Solana chain configurations
func (c *Config) GetSolanaChains() []types.ChainConfig {
	return c.chainsOfType(types.ChainTypeSolana)
}

func (c *Config) chainsOfType(chainType types.ChainType) []types.ChainConfig {
	var out []types.ChainConfig
	for _, chain := range c.Chains {
		if chain.Enabled && chain.ChainType == chainType {
			out = append(out, chain)
		}
	}
	return out
}

// Duration parses a configured duration, falling back when empty or invalid
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
