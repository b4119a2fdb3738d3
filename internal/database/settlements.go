package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Settlement statuses
const (
	SettlementSucceeded = "succeeded"
	SettlementFailed    = "failed"
)

// Settlement is one journaled settlement attempt. Failed rows keep the
// consumed signatures so an operator can replay them.
type Settlement struct {
	ID                 uuid.UUID `json:"id"`
	MessageID          string    `json:"message_id"`
	JobID              string    `json:"job_id"`
	Direction          string    `json:"direction"`
	OriginChainID      uint64    `json:"origin_chain_id"`
	DestinationChainID uint64    `json:"destination_chain_id"`
	Recipient          string    `json:"recipient"`
	Amount             string    `json:"amount"`
	TxHash             string    `json:"tx_hash,omitempty"`
	Status             string    `json:"status"`
	Error              string    `json:"error,omitempty"`
	Signatures         []string  `json:"signatures"`
	RelayerID          uuid.UUID `json:"relayer_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// RecordSettlement inserts a journal row
func (db *DB) RecordSettlement(ctx context.Context, s *Settlement) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO settlements (
			id, message_id, job_id, direction, origin_chain_id, destination_chain_id,
			recipient, amount, tx_hash, status, error, signatures, relayer_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := db.ExecContext(ctx, query,
		s.ID,
		s.MessageID,
		s.JobID,
		s.Direction,
		int64(s.OriginChainID),
		int64(s.DestinationChainID),
		s.Recipient,
		s.Amount,
		nullString(s.TxHash),
		s.Status,
		nullString(s.Error),
		pq.Array(s.Signatures),
		s.RelayerID,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record settlement: %w", err)
	}

	db.logger.Debug().
		Str("message_id", s.MessageID).
		Str("status", s.Status).
		Msg("Settlement journaled")

	return nil
}

// GetSettlementsByMessage returns every attempt for a message, newest first
func (db *DB) GetSettlementsByMessage(ctx context.Context, messageID string) ([]*Settlement, error) {
	query := `
		SELECT
			id, message_id, job_id, direction, origin_chain_id, destination_chain_id,
			recipient, amount::text, tx_hash, status, error, signatures, relayer_id, created_at
		FROM settlements
		WHERE message_id = $1
		ORDER BY created_at DESC
	`
	return db.querySettlements(ctx, query, messageID)
}

// GetFailedSettlements returns the most recent failed settlements
func (db *DB) GetFailedSettlements(ctx context.Context, limit int) ([]*Settlement, error) {
	query := `
		SELECT
			id, message_id, job_id, direction, origin_chain_id, destination_chain_id,
			recipient, amount::text, tx_hash, status, error, signatures, relayer_id, created_at
		FROM settlements
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return db.querySettlements(ctx, query, SettlementFailed, limit)
}

func (db *DB) querySettlements(ctx context.Context, query string, args ...interface{}) ([]*Settlement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*Settlement
	for rows.Next() {
		var (
			s              Settlement
			origin, dest   int64
			txHash, errMsg sql.NullString
		)
		if err := rows.Scan(
			&s.ID,
			&s.MessageID,
			&s.JobID,
			&s.Direction,
			&origin,
			&dest,
			&s.Recipient,
			&s.Amount,
			&txHash,
			&s.Status,
			&errMsg,
			pq.Array(&s.Signatures),
			&s.RelayerID,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		s.OriginChainID = uint64(origin)
		s.DestinationChainID = uint64(dest)
		s.TxHash = txHash.String
		s.Error = errMsg.String
		settlements = append(settlements, &s)
	}

	return settlements, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
