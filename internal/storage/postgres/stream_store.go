package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// StreamStore implements storage.StreamStore using PostgreSQL.
// Amounts travel as decimal strings; segment curves as JSONB.
type StreamStore struct {
	pool *Pool
}

// NewStreamStore creates a new StreamStore.
func NewStreamStore(pool *Pool) *StreamStore {
	return &StreamStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StreamStore = (*StreamStore)(nil)

// segmentRow is the JSONB encoding of one segment.
type segmentRow struct {
	Amount      string `json:"amount"`
	ExponentNum uint32 `json:"exponent_num"`
	ExponentDen uint32 `json:"exponent_den"`
	Duration    int64  `json:"duration"`
}

// NextID atomically allocates the next stream id from the counter row.
func (s *StreamStore) NextID(ctx context.Context) (int64, error) {
	query := `
		UPDATE stream_id_counter SET last_id = last_id + 1
		RETURNING last_id
	`

	var id int64
	if err := s.pool.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate stream id: %w", err)
	}
	return id, nil
}

// LastID returns the highest id allocated so far.
func (s *StreamStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT last_id FROM stream_id_counter`).Scan(&id); err != nil {
		return 0, fmt.Errorf("read last stream id: %w", err)
	}
	return id, nil
}

// Insert adds a new stream. Returns ErrDuplicateKey if the id or the
// certificate nonce already exists.
func (s *StreamStore) Insert(ctx context.Context, stream *domain.Stream) error {
	if stream == nil || stream.ID <= 0 || stream.Deposit == nil {
		return storage.ErrInvalidInput
	}

	segments, err := encodeSegments(stream.Segments)
	if err != nil {
		return err
	}
	senderBal, recipientBal := encodeSnapshot(stream.BalancesAfterCancel)

	query := `
		INSERT INTO streams (
			id, sender, certificate_nonce, payment_asset, payment_sub_id,
			deposit, claimed_amount, can_cancel, start_time, end_time, cliff,
			segments, sender_balance_after_cancel, recipient_balance_after_cancel
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = s.pool.Exec(ctx, query,
		stream.ID,
		stream.Sender.String(),
		stream.CertificateNonce,
		stream.PaymentAsset,
		stream.PaymentSubID,
		stream.Deposit.String(),
		stream.ClaimedAmount.String(),
		stream.CanCancel,
		stream.StartTime,
		stream.EndTime,
		stream.Cliff,
		segments,
		senderBal,
		recipientBal,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

const streamColumns = `
	id, sender, certificate_nonce, payment_asset, payment_sub_id,
	deposit, claimed_amount, can_cancel, start_time, end_time, cliff,
	segments, sender_balance_after_cancel, recipient_balance_after_cancel, created_at
`

// GetByID retrieves a stream by id.
func (s *StreamStore) GetByID(ctx context.Context, id int64) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	stream, err := scanStream(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stream by id: %w", err)
	}
	return stream, nil
}

// GetByCertificateNonce retrieves the stream bound to a certificate nonce.
func (s *StreamStore) GetByCertificateNonce(ctx context.Context, nonce int64) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE certificate_nonce = $1`

	stream, err := scanStream(s.pool.QueryRow(ctx, query, nonce))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stream by certificate nonce: %w", err)
	}
	return stream, nil
}

// Update replaces the mutable fields of a stored record.
func (s *StreamStore) Update(ctx context.Context, stream *domain.Stream) error {
	if stream == nil || stream.ID <= 0 {
		return storage.ErrInvalidInput
	}

	segments, err := encodeSegments(stream.Segments)
	if err != nil {
		return err
	}
	senderBal, recipientBal := encodeSnapshot(stream.BalancesAfterCancel)

	query := `
		UPDATE streams SET
			claimed_amount = $2,
			can_cancel = $3,
			segments = $4,
			sender_balance_after_cancel = $5,
			recipient_balance_after_cancel = $6
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		stream.ID,
		stream.ClaimedAmount.String(),
		stream.CanCancel,
		segments,
		senderBal,
		recipientBal,
	)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a stream record. The id counter is untouched so deleted
// ids are never reassigned.
func (s *StreamStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanStream scans one row into a Stream.
func scanStream(row pgx.Row) (*domain.Stream, error) {
	var (
		stream       domain.Stream
		sender       string
		deposit      string
		claimed      string
		segmentsJSON []byte
		senderBal    *string
		recipientBal *string
	)

	err := row.Scan(
		&stream.ID,
		&sender,
		&stream.CertificateNonce,
		&stream.PaymentAsset,
		&stream.PaymentSubID,
		&deposit,
		&claimed,
		&stream.CanCancel,
		&stream.StartTime,
		&stream.EndTime,
		&stream.Cliff,
		&segmentsJSON,
		&senderBal,
		&recipientBal,
		&stream.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	stream.Sender = domain.Address(sender)
	if stream.Deposit, err = parseAmount(deposit); err != nil {
		return nil, err
	}
	if stream.ClaimedAmount, err = parseAmount(claimed); err != nil {
		return nil, err
	}
	if stream.Segments, err = decodeSegments(segmentsJSON); err != nil {
		return nil, err
	}
	if stream.BalancesAfterCancel, err = decodeSnapshot(senderBal, recipientBal); err != nil {
		return nil, err
	}
	return &stream, nil
}

func encodeSegments(segments []domain.Segment) ([]byte, error) {
	rows := make([]segmentRow, len(segments))
	for i, seg := range segments {
		rows[i] = segmentRow{
			Amount:      seg.Amount.String(),
			ExponentNum: seg.Exponent.Numerator,
			ExponentDen: seg.Exponent.Denominator,
			Duration:    seg.Duration,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	return data, nil
}

func decodeSegments(data []byte) ([]domain.Segment, error) {
	var rows []segmentRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}

	segments := make([]domain.Segment, len(rows))
	for i, r := range rows {
		amount, err := parseAmount(r.Amount)
		if err != nil {
			return nil, err
		}
		segments[i] = domain.Segment{
			Amount:   amount,
			Exponent: domain.Exponent{Numerator: r.ExponentNum, Denominator: r.ExponentDen},
			Duration: r.Duration,
		}
	}
	return segments, nil
}

func encodeSnapshot(b *domain.BalancesAfterCancel) (senderBal, recipientBal *string) {
	if b == nil {
		return nil, nil
	}
	sb := b.SenderBalance.String()
	rb := b.RecipientBalance.String()
	return &sb, &rb
}

func decodeSnapshot(senderBal, recipientBal *string) (*domain.BalancesAfterCancel, error) {
	if senderBal == nil || recipientBal == nil {
		return nil, nil
	}
	sb, err := parseAmount(*senderBal)
	if err != nil {
		return nil, err
	}
	rb, err := parseAmount(*recipientBal)
	if err != nil {
		return nil, err
	}
	return &domain.BalancesAfterCancel{SenderBalance: sb, RecipientBalance: rb}, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse amount %q", s)
	}
	return v, nil
}
