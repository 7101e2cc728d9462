// Package payment holds the value-transfer collaborators: the Ledger that
// moves stream funds and the SwapRouter used by the claim-with-swap variant.
// Transfers are atomic from the engine's perspective.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

var (
	// ErrInvalidTransfer is returned for a nil, negative, or zero amount.
	ErrInvalidTransfer = errors.New("invalid transfer amount")
)

// Ledger is the value-transfer boundary. Every payout the engine makes goes
// through a single Transfer call, all-or-nothing.
type Ledger interface {
	Transfer(ctx context.Context, asset string, subID int64, amount *big.Int, to domain.Address) error
}

// MemoryLedger implements Ledger by crediting balances in process memory.
// It doubles as the settlement oracle in tests: every payout the engine
// performs is visible through Balance.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]*big.Int),
	}
}

// Compile-time interface check.
var _ Ledger = (*MemoryLedger)(nil)

// Transfer credits amount to the recipient's balance for (asset, subID).
func (l *MemoryLedger) Transfer(ctx context.Context, asset string, subID int64, amount *big.Int, to domain.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidTransfer
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey(asset, subID, to)
	bal, ok := l.balances[key]
	if !ok {
		bal = new(big.Int)
		l.balances[key] = bal
	}
	bal.Add(bal, amount)
	return nil
}

// Balance returns the cumulative amount transferred to an account for
// (asset, subID), zero when the account never received anything.
func (l *MemoryLedger) Balance(asset string, subID int64, account domain.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[balanceKey(asset, subID, account)]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

func balanceKey(asset string, subID int64, account domain.Address) string {
	return fmt.Sprintf("%s/%d/%s", asset, subID, account)
}
