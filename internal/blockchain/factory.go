package blockchain

import (
	"context"
	"fmt"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/blockchain/solana"
	evmcrypto "github.com/EmekaIwuagwu/metabridge-relayer/internal/crypto/evm"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/types"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
)

// Registry holds one client per configured network, keyed by chain ID
type Registry struct {
	networks *types.Networks
	evm      map[uint64]*evm.Client
	solana   map[uint64]*solana.Client
	logger   zerolog.Logger
}

// NewRegistry creates clients for every enabled network. A network whose
// client cannot be created is left out; its chain ID then resolves to
// ErrNetworkNotConfigured.
func NewRegistry(
	ctx context.Context,
	networks *types.Networks,
	evmSigner *evmcrypto.ECDSASigner,
	solanaPayer solanago.PrivateKey,
	logger zerolog.Logger,
) (*Registry, error) {
	r := &Registry{
		networks: networks,
		evm:      make(map[uint64]*evm.Client),
		solana:   make(map[uint64]*solana.Client),
		logger:   logger.With().Str("component", "client_registry").Logger(),
	}

	for _, network := range networks.All() {
		r.logger.Info().
			Str("chain_name", network.Name).
			Str("chain_type", string(network.ChainType)).
			Uint64("chain_id", network.ChainID).
			Msg("Creating blockchain client")

		var err error
		switch network.ChainType {
		case types.ChainTypeEVM:
			var client *evm.Client
			client, err = evm.NewClient(ctx, network, evmSigner, logger)
			if err == nil {
				r.evm[network.ChainID] = client
			}
		case types.ChainTypeSolana:
			var client *solana.Client
			client, err = solana.NewClient(network, solanaPayer, logger)
			if err == nil {
				r.solana[network.ChainID] = client
			}
		default:
			err = fmt.Errorf("unsupported chain type: %s", network.ChainType)
		}

		if err != nil {
			r.logger.Error().
				Err(err).
				Str("chain_name", network.Name).
				Msg("Failed to create client")
			continue
		}
	}

	if len(r.evm)+len(r.solana) == 0 {
		return nil, fmt.Errorf("no blockchain clients were successfully created")
	}

	r.logger.Info().
		Int("evm_clients", len(r.evm)).
		Int("solana_clients", len(r.solana)).
		Msg("Blockchain clients initialized")

	return r, nil
}

// Networks returns the network table the registry was built from
func (r *Registry) Networks() *types.Networks {
	return r.networks
}

// EVM returns the client of an EVM network
func (r *Registry) EVM(chainID uint64) (*evm.Client, error) {
	client, ok := r.evm[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: evm chain %d", types.ErrNetworkNotConfigured, chainID)
	}
	return client, nil
}

// Solana returns the client of a Solana network
func (r *Registry) Solana(chainID uint64) (*solana.Client, error) {
	client, ok := r.solana[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: solana chain %d", types.ErrNetworkNotConfigured, chainID)
	}
	return client, nil
}

// ChainType returns the type of a configured network
func (r *Registry) ChainType(chainID uint64) (types.ChainType, error) {
	network, err := r.networks.Get(chainID)
	if err != nil {
		return "", err
	}
	return network.ChainType, nil
}

// Threshold reads the live signature threshold of a destination network
func (r *Registry) Threshold(ctx context.Context, chainID uint64) (uint64, error) {
	if client, ok := r.evm[chainID]; ok {
		return client.GetThreshold(ctx)
	}
	if client, ok := r.solana[chainID]; ok {
		return client.GetThreshold(ctx)
	}
	return 0, fmt.Errorf("%w: chain %d", types.ErrNetworkNotConfigured, chainID)
}

// MintDecimals returns the decimals of an SPL mint on a Solana network
func (r *Registry) MintDecimals(ctx context.Context, chainID uint64, mint string) (uint8, error) {
	client, err := r.Solana(chainID)
	if err != nil {
		return 0, err
	}
	key, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	return client.GetMintDecimals(ctx, key)
}

// ChainHealth is the result of probing one network
type ChainHealth struct {
	Name    string `json:"name"`
	ChainID uint64 `json:"chain_id"`
	Height  uint64 `json:"height"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Probe reads the latest block or slot of every client
func (r *Registry) Probe(ctx context.Context) []ChainHealth {
	var out []ChainHealth
	for _, network := range r.networks.All() {
		health := ChainHealth{Name: network.Name, ChainID: network.ChainID}

		var err error
		if client, ok := r.evm[network.ChainID]; ok {
			health.Height, err = client.GetLatestBlockNumber(ctx)
		} else if client, ok := r.solana[network.ChainID]; ok {
			health.Height, err = client.GetSlot(ctx)
		} else {
			err = fmt.Errorf("no client")
		}

		if err != nil {
			health.Error = err.Error()
		} else {
			health.Healthy = true
		}
		out = append(out, health)
	}
	return out
}

// CloseAll closes every client
func (r *Registry) CloseAll() {
	for chainID, client := range r.evm {
		r.closeClient(chainID, client.Name(), client.Close())
	}
	for chainID, client := range r.solana {
		r.closeClient(chainID, client.Name(), client.Close())
	}
}

func (r *Registry) closeClient(chainID uint64, name string, err error) {
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("chain_name", name).
			Uint64("chain_id", chainID).
			Msg("Error closing client")
		return
	}
	r.logger.Info().
		Str("chain_name", name).
		Uint64("chain_id", chainID).
		Msg("Client closed successfully")
}
