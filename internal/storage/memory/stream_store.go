package memory

import (
	"context"
	"sync"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// StreamStore is an in-memory implementation of storage.StreamStore.
type StreamStore struct {
	mu      sync.RWMutex
	byID    map[int64]*domain.Stream
	byNonce map[int64]int64 // certificate nonce -> stream id
	lastID  int64
}

// NewStreamStore creates a new in-memory stream store.
func NewStreamStore() *StreamStore {
	return &StreamStore{
		byID:    make(map[int64]*domain.Stream),
		byNonce: make(map[int64]int64),
	}
}

// Compile-time interface check.
var _ storage.StreamStore = (*StreamStore)(nil)

// NextID atomically allocates the next stream id.
func (s *StreamStore) NextID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	return s.lastID, nil
}

// LastID returns the highest id allocated so far.
func (s *StreamStore) LastID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastID, nil
}

// Insert adds a new stream. Returns ErrDuplicateKey if the id or the
// certificate nonce already exists.
func (s *StreamStore) Insert(_ context.Context, stream *domain.Stream) error {
	if stream == nil || stream.ID <= 0 || stream.Deposit == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[stream.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byNonce[stream.CertificateNonce]; exists {
		return storage.ErrDuplicateKey
	}

	s.byID[stream.ID] = stream.Clone()
	s.byNonce[stream.CertificateNonce] = stream.ID
	return nil
}

// GetByID retrieves a stream by id.
func (s *StreamStore) GetByID(_ context.Context, id int64) (*domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return stream.Clone(), nil
}

// GetByCertificateNonce retrieves the stream bound to a certificate nonce.
func (s *StreamStore) GetByCertificateNonce(_ context.Context, nonce int64) (*domain.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byNonce[nonce]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// Update replaces the stored record.
func (s *StreamStore) Update(_ context.Context, stream *domain.Stream) error {
	if stream == nil || stream.ID <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[stream.ID]; !exists {
		return storage.ErrNotFound
	}
	s.byID[stream.ID] = stream.Clone()
	return nil
}

// Delete removes a stream record and its certificate-nonce index entry.
// The id counter is untouched so deleted ids are never reassigned.
func (s *StreamStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, exists := s.byID[id]
	if !exists {
		return storage.ErrNotFound
	}
	delete(s.byNonce, stream.CertificateNonce)
	delete(s.byID, id)
	return nil
}
