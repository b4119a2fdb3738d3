package normalize

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// EVMAddress returns the last 20 bytes of a hex-encoded address of any width.
// Recipients coming from non-EVM chains may carry 32-byte representations.
func EVMAddress(s string) (common.Address, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) == 0 {
		return common.Address{}, fmt.Errorf("empty address")
	}
	return common.BytesToAddress(raw), nil
}

// HexToBase58 converts a hex-encoded 32-byte key into its base58 form.
// Values that already are base58 encoded 32-byte keys are returned unchanged.
func HexToBase58(s string) (string, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		if raw, err := base58.Decode(s); err == nil && len(raw) == 32 {
			return s, nil
		}
	}

	raw, err := decodeHex(s)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("expected 32-byte key, got %d bytes", len(raw))
	}
	return base58.Encode(raw), nil
}

// Base58ToHex converts a base58 key into 0x-prefixed hex.
func Base58ToHex(s string) (string, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("failed to decode base58: %w", err)
	}
	return "0x" + hex.EncodeToString(raw), nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex address: %w", err)
	}
	return raw, nil
}
