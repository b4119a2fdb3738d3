package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/aggregator"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/api"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	evmCrypto "github.com/EmekaIwuagwu/metabridge-relayer/internal/crypto/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/database"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/history"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/listener"
	evmListener "github.com/EmekaIwuagwu/metabridge-relayer/internal/listener/evm"
	solanaListener "github.com/EmekaIwuagwu/metabridge-relayer/internal/listener/solana"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/queue"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/relayer"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/sigstore"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	configPath = flag.String("config", "config/config.testnet.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	logger := setupLogger()

	logger.Info().
		Str("service", "relayer").
		Str("config", *configPath).
		Msg("Starting Metabridge Relayer service")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Monitoring.LogLevel); err == nil && cfg.Monitoring.LogLevel != "" {
		logger = logger.Level(level)
	}

	logger.Info().
		Str("environment", string(cfg.Environment)).
		Int("evm_chains", len(cfg.GetEVMChains())).
		Int("solana_chains", len(cfg.GetSolanaChains())).
		Int("workers", cfg.Relayer.Workers).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	networks, err := types.NewNetworks(cfg.Chains)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid network configuration")
	}

	tokens, err := types.NewTokenTable(cfg.Tokens)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid token configuration")
	}

	signer, err := createSigner(&cfg.Wallet)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create relayer signer")
	}
	defer signer.Close()

	logger.Info().
		Str("address", signer.Address().Hex()).
		Msg("Relayer signer loaded")

	var payer solanago.PrivateKey
	if len(networks.OfType(types.ChainTypeSolana)) > 0 {
		payer, err = solanago.PrivateKeyFromBase58(cfg.Wallet.SolanaPrivateKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid Solana payer key")
		}
	}

	registry, err := blockchain.NewRegistry(ctx, networks, signer, payer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create blockchain clients")
	}
	defer registry.CloseAll()

	store, err := sigstore.NewRedisStore(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to signature store")
	}
	defer store.Close()

	backend, err := queue.NewNATSBackend(&cfg.Queue, cfg.App.InstanceName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to job queue")
	}
	defer backend.Close()

	jobs := queue.New(backend, backend, queue.Options{
		Attempts:         cfg.Queue.Attempts,
		BackoffDelay:     config.Duration(cfg.Queue.BackoffDelay, time.Second),
		RemoveOnComplete: true,
		Heartbeat:        backend.AckWait() / 3,
	}, logger)

	var (
		journal relayer.Journal
		db      *database.DB
	)
	if cfg.Database.Enabled() {
		db, err = database.NewDB(&cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to apply database schema")
		}
		journal = db
		go recordPoolStats(ctx, db)
	} else {
		logger.Warn().Msg("Settlement journal disabled, no database configured")
	}

	var reporter relayer.HistoryReporter
	if cfg.History.Address != "" {
		client, err := history.NewClient(&cfg.History, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create history client")
		}
		defer client.Close()
		reporter = client
	} else {
		logger.Warn().Msg("Transaction history reporting disabled")
	}

	relayerID := uuid.New()
	processor := relayer.NewProcessor(
		store,
		relayer.NewRegistryExecutors(registry),
		journal,
		reporter,
		relayerID,
		logger,
	)
	jobs.SetHooks(processor.Hooks())

	r := relayer.NewRelayer(jobs, processor, registry, backend, cfg.Relayer.Workers, logger)
	if err := r.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start relayer")
	}

	events := make(chan types.BridgeEvent, 256)
	agg := aggregator.NewAggregator(
		cfg.App.Murmur3Seed,
		signer,
		store,
		registry,
		jobs,
		cfg.Relayer.AggregatorConcurrency,
		logger,
	)
	agg.Start(ctx, events)

	watchers, err := startWatchers(ctx, networks, tokens, events, logger)
	if err != nil {
		agg.Stop()
		cancel()
		r.Stop()
		logger.Fatal().Err(err).Msg("Failed to start watchers")
	}

	server := api.NewServer(cfg.Server, jobs, r, watchers, logger)
	if db != nil {
		server.SetJournal(db)
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	logger.Info().
		Str("relayer_id", relayerID.String()).
		Int("watchers", len(watchers)).
		Msg("Relayer service started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	stopWatchers(watchers, logger)
	agg.Stop()

	cancel()
	if err := r.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping relayer")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	logger.Info().Msg("Relayer service stopped")
}

// startWatchers starts one watcher per enabled network. If any fails,
// those already started are stopped again.
func startWatchers(
	ctx context.Context,
	networks *types.Networks,
	tokens *types.TokenTable,
	events chan<- types.BridgeEvent,
	logger zerolog.Logger,
) (map[string]listener.Watcher, error) {
	watchers := make(map[string]listener.Watcher)

	for _, network := range networks.All() {
		var (
			w   listener.Watcher
			err error
		)
		switch network.ChainType {
		case types.ChainTypeEVM:
			w, err = evmListener.NewListener(network.ChainID, networks, tokens, nil, events, logger)
		case types.ChainTypeSolana:
			w, err = solanaListener.NewListener(network.ChainID, networks, tokens, events, logger)
		default:
			err = fmt.Errorf("unsupported chain type: %s", network.ChainType)
		}
		if err == nil {
			err = w.Start(ctx)
		}
		if err != nil {
			stopWatchers(watchers, logger)
			return nil, fmt.Errorf("watcher %s: %w", network.Name, err)
		}

		watchers[network.Name] = w
	}

	return watchers, nil
}

func stopWatchers(watchers map[string]listener.Watcher, logger zerolog.Logger) {
	for name, w := range watchers {
		if err := w.Stop(); err != nil {
			logger.Error().Err(err).Str("chain", name).Msg("Error stopping watcher")
		}
	}
}

func recordPoolStats(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.RecordPoolStats()
		}
	}
}

func createSigner(wallet *config.WalletConfig) (*evmCrypto.ECDSASigner, error) {
	if wallet.EVMKeystorePath != "" {
		envVar := wallet.PasswordEnvVar
		if envVar == "" {
			envVar = "RELAYER_KEYSTORE_PASSWORD"
		}
		return evmCrypto.NewECDSASigner(wallet.EVMKeystorePath, os.Getenv(envVar))
	}
	if wallet.EVMPrivateKey == "" {
		return nil, fmt.Errorf("either wallet.evm_private_key or wallet.evm_keystore_path is required")
	}
	return evmCrypto.NewECDSASignerFromPrivateKey(wallet.EVMPrivateKey)
}

func setupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	env := os.Getenv("BRIDGE_ENVIRONMENT")
	if env == "development" || env == "testnet" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Caller().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()
}
