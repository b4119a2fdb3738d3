// Package history reports settled transfers to the transaction history
// service over gRPC.
package history

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/EmekaIwuagwu/metabridge-relayer/internal/monitoring"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Transaction is the economic record of one settlement
type Transaction struct {
	User                    string
	OriginTokenAddress      string
	DestinationTokenAddress string
	Amount                  string
	OriginChainID           uint64
	DestinationChainID      uint64
}

// Client calls TransactionsService.StoreTransaction
type Client struct {
	conn     *grpc.ClientConn
	password string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewClient creates a history client. The connection is established lazily.
func NewClient(cfg *config.HistoryConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("history service address not configured")
	}

	var opts []grpc.DialOption
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create history client: %w", err)
	}

	return &Client{
		conn:     conn,
		password: cfg.Password,
		timeout:  config.Duration(cfg.Timeout, 10*time.Second),
		logger:   logger.With().Str("component", "history").Logger(),
	}, nil
}

// StoreTransaction sends one settlement record
func (c *Client) StoreTransaction(ctx context.Context, tx *Transaction) error {
	req, err := newRequest(tx)
	if err != nil {
		monitoring.HistoryReports.WithLabelValues("invalid").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "password", c.password)

	resp := dynamicpb.NewMessage(responseDescriptor)
	if err := c.conn.Invoke(ctx, storeMethod, req, resp); err != nil {
		monitoring.HistoryReports.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to store transaction: %w", err)
	}

	monitoring.HistoryReports.WithLabelValues("stored").Inc()
	c.logger.Debug().
		Str("user", tx.User).
		Str("amount", tx.Amount).
		Uint64("origin_chain_id", tx.OriginChainID).
		Uint64("destination_chain_id", tx.DestinationChainID).
		Msg("Transaction reported")
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func newRequest(tx *Transaction) (*dynamicpb.Message, error) {
	origin, err := chainID32(tx.OriginChainID)
	if err != nil {
		return nil, err
	}
	destination, err := chainID32(tx.DestinationChainID)
	if err != nil {
		return nil, err
	}

	fields := requestDescriptor.Fields()
	msg := dynamicpb.NewMessage(requestDescriptor)
	msg.Set(fields.ByNumber(fieldUser), protoreflect.ValueOfString(tx.User))
	msg.Set(fields.ByNumber(fieldOriginTokenAddress), protoreflect.ValueOfString(tx.OriginTokenAddress))
	msg.Set(fields.ByNumber(fieldDestinationTokenAddress), protoreflect.ValueOfString(tx.DestinationTokenAddress))
	msg.Set(fields.ByNumber(fieldAmount), protoreflect.ValueOfString(tx.Amount))
	msg.Set(fields.ByNumber(fieldOriginChainID), protoreflect.ValueOfInt32(origin))
	msg.Set(fields.ByNumber(fieldDestinationChainID), protoreflect.ValueOfInt32(destination))
	return msg, nil
}

func chainID32(id uint64) (int32, error) {
	if id > math.MaxInt32 {
		return 0, fmt.Errorf("chain id %d does not fit the history schema", id)
	}
	return int32(id), nil
}
