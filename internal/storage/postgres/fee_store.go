package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// FeeStore implements storage.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *Pool
}

// NewFeeStore creates a new FeeStore.
func NewFeeStore(pool *Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeeStore = (*FeeStore)(nil)

// SetProtocolFee sets the fee rate for an asset.
func (s *FeeStore) SetProtocolFee(ctx context.Context, asset string, bps *big.Int) error {
	if asset == "" || bps == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO protocol_fees (asset, fee_bps) VALUES ($1, $2)
		ON CONFLICT (asset) DO UPDATE SET fee_bps = EXCLUDED.fee_bps
	`
	if _, err := s.pool.Exec(ctx, query, asset, bps.String()); err != nil {
		return fmt.Errorf("set protocol fee: %w", err)
	}
	return nil
}

// GetProtocolFee returns the fee rate for an asset.
func (s *FeeStore) GetProtocolFee(ctx context.Context, asset string) (*big.Int, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT fee_bps FROM protocol_fees WHERE asset = $1`, asset).Scan(&raw)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get protocol fee: %w", err)
	}
	return parseAmount(raw)
}

// RemoveProtocolFee clears the fee rate for an asset.
func (s *FeeStore) RemoveProtocolFee(ctx context.Context, asset string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM protocol_fees WHERE asset = $1`, asset); err != nil {
		return fmt.Errorf("remove protocol fee: %w", err)
	}
	return nil
}
