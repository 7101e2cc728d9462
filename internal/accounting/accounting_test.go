package accounting

import (
	"math/big"
	"testing"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

func linearStream(deposit int64, start, end int64) *domain.Stream {
	return &domain.Stream{
		ID:            1,
		Deposit:       big.NewInt(deposit),
		ClaimedAmount: new(big.Int),
		StartTime:     start,
		EndTime:       end,
		Segments: []domain.Segment{
			{
				Amount:   big.NewInt(deposit),
				Exponent: domain.LinearExponent(),
				Duration: end - start,
			},
		},
	}
}

func TestStreamedAmount_Bounds(t *testing.T) {
	s := linearStream(3000, 1000, 8200)

	if v := StreamedAmount(s, 999); v.Sign() != 0 {
		t.Errorf("expected 0 before start, got %s", v)
	}
	if v := StreamedAmount(s, 9000); v.Cmp(big.NewInt(3000)) != 0 {
		t.Errorf("expected full deposit after end, got %s", v)
	}
}

func TestStreamedAmount_LinearMidpoint(t *testing.T) {
	s := linearStream(3000, 0, 7200)

	v := StreamedAmount(s, 2400)
	if v.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("expected 1000 at 2400s, got %s", v)
	}
}

func TestStreamedAmount_MultiSegment(t *testing.T) {
	s := &domain.Stream{
		Deposit:       big.NewInt(1500),
		ClaimedAmount: new(big.Int),
		StartTime:     0,
		EndTime:       900,
		Segments: []domain.Segment{
			{Amount: big.NewInt(500), Exponent: domain.LinearExponent(), Duration: 300},
			{Amount: big.NewInt(1000), Exponent: domain.LinearExponent(), Duration: 600},
		},
	}

	// First segment complete, second halfway: 500 + 500
	v := StreamedAmount(s, 600)
	if v.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("expected 1000 at 600s, got %s", v)
	}

	// Within the first segment the second yields nothing yet.
	v = StreamedAmount(s, 150)
	if v.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("expected 250 at 150s, got %s", v)
	}
}

func TestStreamedAmount_ZeroAmountSegmentDoesNotShortCircuit(t *testing.T) {
	// A zero-amount delay segment must not mask segments behind it.
	s := &domain.Stream{
		Deposit:       big.NewInt(1000),
		ClaimedAmount: new(big.Int),
		StartTime:     0,
		EndTime:       600,
		Segments: []domain.Segment{
			{Amount: new(big.Int), Exponent: domain.LinearExponent(), Duration: 300},
			{Amount: big.NewInt(1000), Exponent: domain.LinearExponent(), Duration: 300},
		},
	}

	v := StreamedAmount(s, 450)
	if v.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("expected 500 at 450s behind a delay segment, got %s", v)
	}
}

func TestRecipientBalance_CliffGating(t *testing.T) {
	s := linearStream(1000, 0, 1000)
	s.Cliff = 400

	// Before the cliff the curve has released value but none is claimable.
	if v := RecipientBalance(s, 399); v.Sign() != 0 {
		t.Errorf("expected 0 before cliff, got %s", v)
	}

	// The instant the cliff elapses, everything streamed so far unlocks.
	v := RecipientBalance(s, 400)
	if v.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("expected 400 at cliff, got %s", v)
	}
}

func TestRecipientBalance_PastEndIsExact(t *testing.T) {
	s := linearStream(3000, 0, 7200)
	s.ClaimedAmount = big.NewInt(1000)

	v := RecipientBalance(s, 7201)
	if v.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("expected exact remainder 2000 past end, got %s", v)
	}
}

func TestRecipientBalance_SubtractsClaimed(t *testing.T) {
	s := linearStream(3000, 0, 7200)
	s.ClaimedAmount = big.NewInt(1000)

	// Streamed 1500 at 3600s, 1000 already claimed.
	v := RecipientBalance(s, 3600)
	if v.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("expected 500 claimable, got %s", v)
	}
}

func TestConservation(t *testing.T) {
	streams := []*domain.Stream{
		linearStream(3000, 100, 7300),
		{
			Deposit:       big.NewInt(999983), // prime, exercises rounding
			ClaimedAmount: new(big.Int),
			StartTime:     100,
			EndTime:       7300,
			Segments: []domain.Segment{
				{Amount: big.NewInt(499983), Exponent: domain.Exponent{Numerator: 2, Denominator: 1}, Duration: 3600},
				{Amount: big.NewInt(500000), Exponent: domain.Exponent{Numerator: 1, Denominator: 2}, Duration: 3600},
			},
		},
	}
	streams[0].ClaimedAmount = big.NewInt(137)
	streams[0].Cliff = 60

	for _, s := range streams {
		for now := int64(0); now <= 7400; now += 97 {
			recipient := RecipientBalance(s, now)
			sender := SenderBalance(s, now)

			sum := new(big.Int).Add(recipient, sender)
			sum.Add(sum, s.ClaimedAmount)
			if sum.Cmp(s.Deposit) != 0 {
				t.Fatalf("conservation violated at now=%d: claimed=%s recipient=%s sender=%s deposit=%s",
					now, s.ClaimedAmount, recipient, sender, s.Deposit)
			}
			if recipient.Sign() < 0 || sender.Sign() < 0 {
				t.Fatalf("negative balance at now=%d: recipient=%s sender=%s", now, recipient, sender)
			}
		}
	}
}

func TestRecipientBalance_Monotonic(t *testing.T) {
	s := linearStream(999983, 0, 7200)
	s.Cliff = 300

	prev := new(big.Int)
	for now := int64(0); now <= 7200; now += 61 {
		v := RecipientBalance(s, now)
		if v.Cmp(prev) < 0 {
			t.Fatalf("recipient balance decreased at now=%d: %s < %s", now, v, prev)
		}
		prev = v
	}
}

func TestStatusOf(t *testing.T) {
	s := linearStream(1000, 100, 700)

	tests := []struct {
		now  int64
		want domain.Status
	}{
		{50, domain.StatusPending},
		{100, domain.StatusInProgress},
		{699, domain.StatusInProgress},
		{700, domain.StatusSettled},
		{10000, domain.StatusSettled},
	}
	for _, tt := range tests {
		if got := StatusOf(s, tt.now); got != tt.want {
			t.Errorf("StatusOf(now=%d) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestStatusOf_CanceledOverridesTime(t *testing.T) {
	s := linearStream(1000, 100, 700)
	s.BalancesAfterCancel = &domain.BalancesAfterCancel{
		SenderBalance:    big.NewInt(500),
		RecipientBalance: big.NewInt(500),
	}

	for _, now := range []int64{50, 300, 10000} {
		if got := StatusOf(s, now); got != domain.StatusCanceled {
			t.Errorf("StatusOf(now=%d) = %s, want CANCELED", now, got)
		}
	}
	if IsWarm(s, 300) {
		t.Error("cancelled stream must not be warm")
	}
}

func TestIsWarm(t *testing.T) {
	s := linearStream(1000, 100, 700)

	if !IsWarm(s, 50) || !IsWarm(s, 300) {
		t.Error("pending and in-progress streams are warm")
	}
	if IsWarm(s, 700) {
		t.Error("settled stream is not warm")
	}
}
