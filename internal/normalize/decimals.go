package normalize

import (
	"fmt"
	"math/big"
)

// CanonicalDecimals is the internal reference precision for amounts.
const CanonicalDecimals = 18

var ten = big.NewInt(10)

// Rescale converts amount between decimal precisions, truncating toward zero.
func Rescale(amount *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(amount)
	switch {
	case from < to:
		out.Mul(out, pow10(to-from))
	case from > to:
		out.Quo(out, pow10(from-to))
	}
	return out
}

// ToCanonical scales a chain-native amount up to 18 decimals.
func ToCanonical(amount *big.Int, nativeDecimals uint8) (*big.Int, error) {
	if nativeDecimals > CanonicalDecimals {
		return nil, fmt.Errorf("native decimals %d exceed canonical %d", nativeDecimals, CanonicalDecimals)
	}
	return Rescale(amount, nativeDecimals, CanonicalDecimals), nil
}

// FromCanonical scales an 18-decimal amount down to the native precision.
func FromCanonical(amount *big.Int, nativeDecimals uint8) (*big.Int, error) {
	if nativeDecimals > CanonicalDecimals {
		return nil, fmt.Errorf("native decimals %d exceed canonical %d", nativeDecimals, CanonicalDecimals)
	}
	return Rescale(amount, CanonicalDecimals, nativeDecimals), nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}
