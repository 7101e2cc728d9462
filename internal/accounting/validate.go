package accounting

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// ErrInvalidSegments is wrapped by every segment validation failure.
var ErrInvalidSegments = errors.New("invalid segments")

// ValidateSegments checks that a segment curve is well-formed against the
// stream it will drive: durations sum to the stream window, amounts sum to
// the net deposit, no segment carries a zero duration or a zero exponent
// denominator, and exponents stay within the curve engine's cap.
func ValidateSegments(deposit *big.Int, duration int64, segments []domain.Segment) error {
	if len(segments) == 0 {
		return fmt.Errorf("%w: stream requires at least one segment", ErrInvalidSegments)
	}
	if len(segments) > domain.MaxSegmentsPerStream {
		return fmt.Errorf("%w: %d segments exceeds the cap of %d",
			ErrInvalidSegments, len(segments), domain.MaxSegmentsPerStream)
	}

	var totalDuration int64
	totalAmount := new(big.Int)
	for i, seg := range segments {
		if seg.Duration <= 0 {
			return fmt.Errorf("%w: segment %d has non-positive duration", ErrInvalidSegments, i)
		}
		if seg.Exponent.Denominator == 0 {
			return fmt.Errorf("%w: segment %d exponent denominator is zero", ErrInvalidSegments, i)
		}
		if seg.Exponent.Numerator > domain.MaxSegmentExponent || seg.Exponent.Denominator > domain.MaxSegmentExponent {
			return fmt.Errorf("%w: segment %d exponent exceeds the cap of %d",
				ErrInvalidSegments, i, domain.MaxSegmentExponent)
		}
		if seg.Amount == nil || seg.Amount.Sign() < 0 {
			return fmt.Errorf("%w: segment %d has invalid amount", ErrInvalidSegments, i)
		}
		totalDuration += seg.Duration
		totalAmount.Add(totalAmount, seg.Amount)
	}

	if totalDuration != duration {
		return fmt.Errorf("%w: segment durations sum to %d, stream window is %d",
			ErrInvalidSegments, totalDuration, duration)
	}
	if totalAmount.Cmp(deposit) != 0 {
		return fmt.Errorf("%w: segment amounts sum to %s, deposit is %s",
			ErrInvalidSegments, totalAmount, deposit)
	}
	return nil
}
