package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventArchiveStore.
type EventStore struct {
	mu      sync.RWMutex
	records []*domain.EventRecord
}

// NewEventStore creates a new in-memory event archive.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Compile-time interface check.
var _ storage.EventArchiveStore = (*EventStore)(nil)

// InsertBulk appends a batch of events.
func (s *EventStore) InsertBulk(_ context.Context, records []*domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.Type == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.records = append(s.records, cloneEvent(r))
	}
	return nil
}

// GetByStreamID retrieves all events for a stream, ordered by timestamp ASC.
func (s *EventStore) GetByStreamID(_ context.Context, streamID int64) ([]*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EventRecord
	for _, r := range s.records {
		if r.StreamID == streamID {
			result = append(result, cloneEvent(r))
		}
	}
	sortEvents(result)
	return result, nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EventRecord
	for _, r := range s.records {
		if r.Timestamp >= start && r.Timestamp <= end {
			result = append(result, cloneEvent(r))
		}
	}
	sortEvents(result)
	return result, nil
}

func sortEvents(records []*domain.EventRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
}

func cloneEvent(r *domain.EventRecord) *domain.EventRecord {
	c := *r
	if r.Amount != nil {
		c.Amount = new(big.Int).Set(r.Amount)
	}
	return &c
}
