package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seeds of the bridge program's derived accounts
const (
	BridgeConfigSeed  = "BridgeConf"
	SPLVaultSeed      = "splv"
	UsedSignatureSeed = "sign"
)

// BridgeConfigPDA derives the bridge configuration account
func BridgeConfigPDA(program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(BridgeConfigSeed)}, program)
	return addr, err
}

// SPLVaultPDA derives the vault authority that owns locked tokens
func SPLVaultPDA(program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(SPLVaultSeed)}, program)
	return addr, err
}

// UsedSignaturePDA derives the replay-protection account of one signature.
// A seed is limited to 32 bytes, so r and s are passed separately.
func UsedSignaturePDA(program solana.PublicKey, signature []byte) (solana.PublicKey, error) {
	if len(signature) < 64 {
		return solana.PublicKey{}, fmt.Errorf("signature too short: %d bytes", len(signature))
	}
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte(UsedSignatureSeed),
		signature[0:32],
		signature[32:64],
	}, program)
	return addr, err
}
