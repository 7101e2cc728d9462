package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// FeeStore is an in-memory implementation of storage.FeeStore.
type FeeStore struct {
	mu   sync.RWMutex
	fees map[string]*big.Int // asset -> basis points
}

// NewFeeStore creates a new in-memory fee store.
func NewFeeStore() *FeeStore {
	return &FeeStore{
		fees: make(map[string]*big.Int),
	}
}

// Compile-time interface check.
var _ storage.FeeStore = (*FeeStore)(nil)

// SetProtocolFee sets the fee rate for an asset.
func (s *FeeStore) SetProtocolFee(_ context.Context, asset string, bps *big.Int) error {
	if asset == "" || bps == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fees[asset] = new(big.Int).Set(bps)
	return nil
}

// GetProtocolFee returns the fee rate for an asset.
func (s *FeeStore) GetProtocolFee(_ context.Context, asset string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bps, exists := s.fees[asset]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return new(big.Int).Set(bps), nil
}

// RemoveProtocolFee clears the fee rate for an asset.
func (s *FeeStore) RemoveProtocolFee(_ context.Context, asset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.fees, asset)
	return nil
}
