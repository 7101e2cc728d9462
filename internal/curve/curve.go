// Package curve computes how much of a segment's amount has been released
// at a point in time. All arithmetic is unsigned arbitrary-precision with
// truncating division, so the engine never over-releases: partial results
// may undershoot by a unit until the segment boundary pays out in full.
package curve

import (
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// SegmentValue returns the amount released by a segment at time now, given
// the segment's own start time. Before the segment starts it releases
// nothing; past its end it releases its full amount. In between the release
// follows elapsed^(n/d) scaled into the segment amount, where n/d is the
// segment exponent. The exponent denominator must be validated non-zero
// before a segment reaches this function.
func SegmentValue(segmentStart int64, seg domain.Segment, now int64) *big.Int {
	segmentEnd := segmentStart + seg.Duration

	if now < segmentStart {
		return new(big.Int)
	}
	if now > segmentEnd {
		return new(big.Int).Set(seg.Amount)
	}

	elapsed := big.NewInt(now - segmentStart)
	duration := big.NewInt(seg.Duration)
	num, den := reduce(seg.Exponent)
	n := big.NewInt(int64(num))

	elapsedPow := new(big.Int).Exp(elapsed, n, nil)
	durationPow := new(big.Int).Exp(duration, n, nil)

	if den == 1 {
		v := new(big.Int).Mul(elapsedPow, seg.Amount)
		return v.Div(v, durationPow)
	}

	// Rational exponent n/d: value = (amount^d * elapsed^n / duration^n)^(1/d).
	// Raising the amount before the root keeps full precision; the floor
	// taken inside the radicand can only round down, never up.
	v := new(big.Int).Exp(seg.Amount, big.NewInt(int64(den)), nil)
	v.Mul(v, elapsedPow)
	v.Div(v, durationPow)
	return Root(v, den)
}

// Root returns floor(x^(1/n)) for non-negative x via Newton iteration.
func Root(x *big.Int, n uint32) *big.Int {
	if n == 1 || x.Sign() == 0 {
		return new(big.Int).Set(x)
	}

	nBig := big.NewInt(int64(n))
	nMinusOne := big.NewInt(int64(n - 1))

	// Initial guess: 2^(ceil(bitlen/n)), always >= the true root.
	guess := new(big.Int).Lsh(big.NewInt(1), uint(x.BitLen())/uint(n)+1)
	for {
		// next = ((n-1)*guess + x/guess^(n-1)) / n
		next := new(big.Int).Exp(guess, nMinusOne, nil)
		next.Div(x, next)
		next.Add(next, new(big.Int).Mul(nMinusOne, guess))
		next.Div(next, nBig)

		if next.Cmp(guess) >= 0 {
			return guess
		}
		guess = next
	}
}

// reduce cancels the common factor of an exponent so integer powers written
// as e.g. 2/2 or 4/2 take the exact integer-power path.
func reduce(e domain.Exponent) (uint32, uint32) {
	num, den := e.Numerator, e.Denominator
	for den > 1 {
		g := gcd(num, den)
		if g == 1 {
			break
		}
		num /= g
		den /= g
	}
	if den == 0 {
		den = 1
	}
	return num, den
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
