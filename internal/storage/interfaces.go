package storage

import (
	"context"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// StreamStore persists stream records keyed by id and by certificate nonce,
// and owns the last-assigned-id counter.
type StreamStore interface {
	// NextID atomically allocates the next stream id. Ids are monotonic and
	// never reused, including for deleted streams.
	NextID(ctx context.Context) (int64, error)

	// LastID returns the highest id allocated so far, 0 when none.
	LastID(ctx context.Context) (int64, error)

	// Insert adds a new stream. Returns ErrDuplicateKey if the id or the
	// certificate nonce already exists.
	Insert(ctx context.Context, s *domain.Stream) error

	// GetByID retrieves a stream by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Stream, error)

	// GetByCertificateNonce retrieves the stream bound to a certificate
	// nonce. Returns ErrNotFound if not exists.
	GetByCertificateNonce(ctx context.Context, nonce int64) (*domain.Stream, error)

	// Update replaces the stored record. Returns ErrNotFound if not exists.
	Update(ctx context.Context, s *domain.Stream) error

	// Delete removes a fully drained stream. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, id int64) error
}

// FeeStore holds the per-asset protocol fee table, in basis points.
type FeeStore interface {
	// SetProtocolFee sets the fee rate for an asset.
	SetProtocolFee(ctx context.Context, asset string, bps *big.Int) error

	// GetProtocolFee returns the fee rate for an asset.
	// Returns ErrNotFound when no fee is configured.
	GetProtocolFee(ctx context.Context, asset string) (*big.Int, error)

	// RemoveProtocolFee clears the fee rate for an asset. Removing an
	// unconfigured asset is a no-op.
	RemoveProtocolFee(ctx context.Context, asset string) error
}

// EventArchiveStore is the append-only history of protocol events.
type EventArchiveStore interface {
	// InsertBulk appends a batch of events.
	InsertBulk(ctx context.Context, records []*domain.EventRecord) error

	// GetByStreamID retrieves all events for a stream, ordered by timestamp ASC.
	GetByStreamID(ctx context.Context, streamID int64) ([]*domain.EventRecord, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EventRecord, error)
}
