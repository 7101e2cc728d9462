package events

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// recordingStore implements storage.EventArchiveStore for sink tests.
type recordingStore struct {
	records []*domain.EventRecord
	err     error
}

func (s *recordingStore) InsertBulk(ctx context.Context, records []*domain.EventRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *recordingStore) GetByStreamID(ctx context.Context, streamID int64) ([]*domain.EventRecord, error) {
	return nil, nil
}

func (s *recordingStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EventRecord, error) {
	return nil, nil
}

func TestArchiveSink_Emit(t *testing.T) {
	store := &recordingStore{}
	sink := NewArchiveSink(store)

	rec := &domain.EventRecord{
		Type:      domain.EventClaim,
		StreamID:  7,
		Amount:    big.NewInt(1000),
		Timestamp: 5000,
	}
	if err := sink.Emit(context.Background(), rec); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if len(store.records) != 1 {
		t.Fatalf("Expected 1 archived record, got %d", len(store.records))
	}
	if store.records[0].StreamID != 7 {
		t.Errorf("Expected stream id 7, got %d", store.records[0].StreamID)
	}
}

func TestArchiveSink_EmitError(t *testing.T) {
	storeErr := errors.New("archive down")
	sink := NewArchiveSink(&recordingStore{err: storeErr})

	err := sink.Emit(context.Background(), &domain.EventRecord{Type: domain.EventCreateStream})
	if !errors.Is(err, storeErr) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
}

func TestMultiSink_FansOutAndReportsFirstError(t *testing.T) {
	ok := &recordingStore{}
	bad := &recordingStore{err: errors.New("down")}
	after := &recordingStore{}

	sink := MultiSink{NewArchiveSink(ok), NewArchiveSink(bad), NewArchiveSink(after)}
	err := sink.Emit(context.Background(), &domain.EventRecord{Type: domain.EventCancelStream, StreamID: 1})

	if err == nil {
		t.Fatal("Expected error from failing sink")
	}
	// Sinks after the failing one still receive the event.
	if len(ok.records) != 1 || len(after.records) != 1 {
		t.Errorf("Expected both healthy sinks to receive the event, got %d and %d",
			len(ok.records), len(after.records))
	}
}

func TestNopSink(t *testing.T) {
	if err := (NopSink{}).Emit(context.Background(), &domain.EventRecord{}); err != nil {
		t.Errorf("NopSink returned error: %v", err)
	}
}
