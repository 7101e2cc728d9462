package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// EventStore implements storage.EventArchiveStore using ClickHouse.
// The archive is append-only history; amounts travel as UInt256-safe
// decimal strings.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchiveStore = (*EventStore)(nil)

// InsertBulk appends a batch of events.
func (s *EventStore) InsertBulk(ctx context.Context, records []*domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.Type == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO stream_events (
			event_type, stream_id, caller, amount, finalized, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare event batch: %w", err)
	}

	for _, r := range records {
		amount := ""
		if r.Amount != nil {
			amount = r.Amount.String()
		}
		if err := batch.Append(
			r.Type,
			r.StreamID,
			r.Caller.String(),
			amount,
			r.Finalized,
			r.Timestamp,
		); err != nil {
			return fmt.Errorf("append event to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send event batch: %w", err)
	}
	return nil
}

// GetByStreamID retrieves all events for a stream, ordered by timestamp ASC.
func (s *EventStore) GetByStreamID(ctx context.Context, streamID int64) ([]*domain.EventRecord, error) {
	query := `
		SELECT event_type, stream_id, caller, amount, finalized, timestamp
		FROM stream_events
		WHERE stream_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("get events by stream id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.EventRecord, error) {
	query := `
		SELECT event_type, stream_id, caller, amount, finalized, timestamp
		FROM stream_events
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get events by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type eventRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows eventRows) ([]*domain.EventRecord, error) {
	var records []*domain.EventRecord

	for rows.Next() {
		var (
			r      domain.EventRecord
			caller string
			amount string
		)
		if err := rows.Scan(&r.Type, &r.StreamID, &caller, &amount, &r.Finalized, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		r.Caller = domain.Address(caller)
		if amount != "" {
			v, ok := new(big.Int).SetString(amount, 10)
			if !ok {
				return nil, fmt.Errorf("parse event amount %q", amount)
			}
			r.Amount = v
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return records, nil
}
