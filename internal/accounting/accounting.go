// Package accounting derives stream balances and lifecycle status from
// stored stream fields plus the current time. Nothing here mutates state;
// the protocol layer folds these functions into claim and cancel decisions.
package accounting

import (
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/curve"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// StreamedAmount returns the total released by the stream's segment curve
// at time now, clamped to the deposit.
func StreamedAmount(s *domain.Stream, now int64) *big.Int {
	if now < s.StartTime {
		return new(big.Int)
	}
	if now > s.EndTime {
		return new(big.Int).Set(s.Deposit)
	}

	segmentStart := s.StartTime
	total := new(big.Int)
	for _, seg := range s.Segments {
		v := curve.SegmentValue(segmentStart, seg, now)

		// Segments are ordered in time, so an amount-bearing segment that
		// yields nothing means now has not reached it; later ones yield
		// nothing either.
		if v.Sign() == 0 && seg.Amount.Sign() > 0 {
			break
		}

		total.Add(total, v)
		segmentStart += seg.Duration
	}

	// Clamp against cumulative rounding drift.
	if total.Cmp(s.Deposit) > 0 {
		return new(big.Int).Set(s.Deposit)
	}
	return total
}

// RecipientBalance returns the amount currently claimable by the
// certificate holder: nothing before the cliff elapses, the exact
// unclaimed remainder once the stream window has passed, and the streamed
// amount net of prior claims in between.
func RecipientBalance(s *domain.Stream, now int64) *big.Int {
	if now < s.StartTime+s.Cliff {
		return new(big.Int)
	}
	if now < s.StartTime {
		return new(big.Int)
	}
	if now > s.EndTime {
		return new(big.Int).Sub(s.Deposit, s.ClaimedAmount)
	}

	balance := StreamedAmount(s, now)
	balance.Sub(balance, s.ClaimedAmount)
	if balance.Sign() < 0 {
		return new(big.Int)
	}
	return balance
}

// SenderBalance is the complement of the recipient balance. It is always
// derived, never computed independently, so the conservation identity
// deposit == claimed + recipient + sender holds under rounding.
func SenderBalance(s *domain.Stream, now int64) *big.Int {
	b := new(big.Int).Sub(s.Deposit, RecipientBalance(s, now))
	return b.Sub(b, s.ClaimedAmount)
}

// StatusOf classifies an existing stream record. The cancellation snapshot
// overrides the time-based states; Finished applies only to deleted
// records and is reported by the protocol layer.
func StatusOf(s *domain.Stream, now int64) domain.Status {
	if s.Canceled() {
		return domain.StatusCanceled
	}
	if now < s.StartTime {
		return domain.StatusPending
	}
	if now < s.EndTime {
		return domain.StatusInProgress
	}
	return domain.StatusSettled
}

// IsWarm reports whether the stream is still time-gated at now.
func IsWarm(s *domain.Stream, now int64) bool {
	return StatusOf(s, now).Warm()
}
