package events

import (
	"context"
	"fmt"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// ArchiveSink appends events to the persistent event archive.
type ArchiveSink struct {
	store storage.EventArchiveStore
}

// NewArchiveSink creates an ArchiveSink over an archive store.
func NewArchiveSink(store storage.EventArchiveStore) *ArchiveSink {
	return &ArchiveSink{store: store}
}

// Compile-time interface check.
var _ Sink = (*ArchiveSink)(nil)

// Emit appends the event to the archive.
func (s *ArchiveSink) Emit(ctx context.Context, rec *domain.EventRecord) error {
	if err := s.store.InsertBulk(ctx, []*domain.EventRecord{rec}); err != nil {
		return fmt.Errorf("archive event: %w", err)
	}
	return nil
}
