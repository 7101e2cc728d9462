package domain

import "math/big"

// Segment is one phase of a stream's release curve. A stream's segments are
// ordered in time; their durations sum to end_time - start_time and their
// amounts sum to the stream deposit.
type Segment struct {
	Amount   *big.Int // target amount released by this segment
	Exponent Exponent // curve shape, 1/1 = linear
	Duration int64    // seconds, > 0
}

// Exponent is the power applied to elapsed time within a segment,
// expressed as a rational numerator/denominator pair.
type Exponent struct {
	Numerator   uint32
	Denominator uint32
}

// LinearExponent is the exponent of a plain linear segment.
func LinearExponent() Exponent {
	return Exponent{Numerator: 1, Denominator: 1}
}

// BalancesAfterCancel is the settlement snapshot taken at the instant a
// stream is cancelled. Each half drains to zero independently as the
// corresponding side claims. Its presence on a Stream is the sole marker
// of the cancelled state.
type BalancesAfterCancel struct {
	SenderBalance    *big.Int
	RecipientBalance *big.Int
}

// Stream is the central entity: a scheduled, segmented release of a
// deposited value from sender to recipient over time.
// Corresponds to the streams table in PostgreSQL.
type Stream struct {
	ID                  int64    // monotonically assigned, never reused
	Sender              Address  // party that locked the deposit
	CertificateNonce    int64    // nonce of the ownership certificate bound 1:1 to this stream
	PaymentAsset        string   // asset identifier of the streamed value
	PaymentSubID        int64    // sub-identifier within the asset (0 for fungible)
	Deposit             *big.Int // net amount streamed, after creation fees
	ClaimedAmount       *big.Int // cumulative amount paid out to the recipient side
	CanCancel           bool     // sender may revoke until renounced
	StartTime           int64    // unix seconds
	EndTime             int64    // unix seconds, > StartTime
	Cliff               int64    // seconds after StartTime during which nothing is releasable
	Segments            []Segment
	BalancesAfterCancel *BalancesAfterCancel // non-nil iff cancelled
	CreatedAt           int64                // record creation timestamp (unix seconds)
}

// Canceled reports whether the stream carries a cancellation snapshot.
func (s *Stream) Canceled() bool {
	return s.BalancesAfterCancel != nil
}

// Clone returns a deep copy of the stream. Stores hand out clones so a
// caller can never mutate persisted state through an alias.
func (s *Stream) Clone() *Stream {
	c := *s
	c.Deposit = cloneBig(s.Deposit)
	c.ClaimedAmount = cloneBig(s.ClaimedAmount)
	c.Segments = make([]Segment, len(s.Segments))
	for i, seg := range s.Segments {
		c.Segments[i] = Segment{
			Amount:   cloneBig(seg.Amount),
			Exponent: seg.Exponent,
			Duration: seg.Duration,
		}
	}
	if s.BalancesAfterCancel != nil {
		c.BalancesAfterCancel = &BalancesAfterCancel{
			SenderBalance:    cloneBig(s.BalancesAfterCancel.SenderBalance),
			RecipientBalance: cloneBig(s.BalancesAfterCancel.RecipientBalance),
		}
	}
	return &c
}

func cloneBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// ClaimResult describes the outcome of a claim operation.
type ClaimResult struct {
	StreamID         int64
	CertificateNonce int64
	PaymentAsset     string
	PaymentSubID     int64
	ClaimedAmount    *big.Int
	IsFinalized      bool // true when the claim drained and deleted the stream
}

// BrokerFee is an optional per-creation fee routed to a broker address.
// Fee is expressed in basis points of the deposit after the protocol fee.
type BrokerFee struct {
	Address Address
	FeeBps  *big.Int
}

// Fee bounds, in basis points.
const (
	MaxBrokerFeeBps = 10_00  // 10%
	BpsDenominator  = 100_00 // fees are quoted against 10000
)

// MaxSegmentsPerStream caps the segment curves accepted at creation.
const MaxSegmentsPerStream = 25

// MaxSegmentExponent caps a segment exponent's numerator and denominator.
// Release curves are small rational powers; the power computation in the
// curve engine is bounded by this cap.
const MaxSegmentExponent = 100
