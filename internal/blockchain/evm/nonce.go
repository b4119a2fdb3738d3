package evm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reads the pending nonce of an account from the node
type NonceSource func(ctx context.Context, account common.Address) (uint64, error)

// NonceManager serializes transactions of one sending account on one chain.
// Each send gets max(pending nonce, last used + 1); a failed send drops the
// local counter so the next send resyncs from the node.
type NonceManager struct {
	mu      sync.Mutex
	account common.Address
	source  NonceSource
	next    uint64
	synced  bool
}

// NewNonceManager creates a nonce manager for account
func NewNonceManager(account common.Address, source NonceSource) *NonceManager {
	return &NonceManager{account: account, source: source}
}

// Send calls send with the next nonce while holding the account lock
func (m *NonceManager) Send(ctx context.Context, send func(nonce uint64) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.source(ctx, m.account)
	if err != nil {
		return fmt.Errorf("failed to read pending nonce: %w", err)
	}

	nonce := pending
	if m.synced && m.next > nonce {
		nonce = m.next
	}

	if err := send(nonce); err != nil {
		m.synced = false
		return err
	}

	m.next = nonce + 1
	m.synced = true
	return nil
}
