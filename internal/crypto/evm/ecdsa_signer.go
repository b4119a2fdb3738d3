package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ECDSASigner holds the relayer's secp256k1 key. It attests bridge messages
// for every destination chain and signs EVM settlement transactions.
type ECDSASigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewECDSASigner loads the first account of a keystore directory
func NewECDSASigner(keystorePath string, password string) (*ECDSASigner, error) {
	ks := keystore.NewKeyStore(keystorePath, keystore.StandardScryptN, keystore.StandardScryptP)

	if len(ks.Accounts()) == 0 {
		return nil, fmt.Errorf("no accounts found in keystore: %s", keystorePath)
	}
	account := ks.Accounts()[0]

	keyJSON, err := ks.Export(account, password, password)
	if err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	return newSigner(key.PrivateKey), nil
}

// NewECDSASignerFromPrivateKey creates a signer from a hex private key, with or without 0x
func NewECDSASignerFromPrivateKey(privateKeyHex string) (*ECDSASigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the signer's Ethereum address
func (s *ECDSASigner) Address() common.Address {
	return s.address
}

// SignEthereumMessage signs a message with Ethereum's personal_sign format
func (s *ECDSASigner) SignEthereumMessage(message []byte) ([]byte, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}

	// Adjust V value for Ethereum compatibility
	signature[64] += 27

	return signature, nil
}

// SignMessage returns the personal_sign signature as 0x-prefixed hex
func (s *ECDSASigner) SignMessage(message []byte) (string, error) {
	signature, err := s.SignEthereumMessage(message)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(signature), nil
}

// TransactOpts returns EIP-155 transaction options bound to chainID
func (s *ECDSASigner) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	return opts, nil
}

// RecoverMessageSigner returns the address that produced a personal_sign signature
func RecoverMessageSigner(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// Close clears sensitive data
func (s *ECDSASigner) Close() error {
	if s.privateKey != nil {
		s.privateKey.D.SetInt64(0)
	}
	return nil
}
