package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/CoinDrip-finance/protocol-v2/internal/accounting"
	"github.com/CoinDrip-finance/protocol-v2/internal/certificate"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/observability"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
)

// ClaimFromStream pays the certificate holder everything currently released
// and unclaimed. When the stream window has fully passed, the claim drains
// the stream: the record is deleted and the certificate burned.
func (e *Engine) ClaimFromStream(ctx context.Context, streamID int64, caller domain.Address) (*domain.ClaimResult, error) {
	start := time.Now()

	e.mu.Lock()
	res, err := e.claimCommit(ctx, streamID, caller)
	if err == nil {
		err = e.ledger.Transfer(ctx, res.PaymentAsset, res.PaymentSubID, res.ClaimedAmount, caller)
		if err != nil {
			err = fmt.Errorf("pay out claim on stream %d: %w", streamID, err)
		}
	}
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("claim", reason(err))
		return nil, err
	}
	observability.RecordClaim("direct")
	observability.RecordOperationLatency("claim", time.Since(start).Seconds())
	return res, nil
}

// ClaimFromStreamWithSwap claims like ClaimFromStream but routes the payout
// through an external swap aggregator. The stream's own state is committed
// before the router runs, so a hostile or reentrant router observes the
// claim as already taken and cannot replay it.
func (e *Engine) ClaimFromStreamWithSwap(ctx context.Context, streamID int64, caller domain.Address, route []payment.SwapStep) (*domain.ClaimResult, error) {
	start := time.Now()

	e.mu.Lock()
	res, err := e.claimCommit(ctx, streamID, caller)
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("claim_swap", reason(err))
		return nil, err
	}

	// External-call boundary: the claim is already committed above. The
	// router receives exactly the debited amount, never more.
	if err := e.router.Swap(ctx, route, res.PaymentAsset, res.PaymentSubID, res.ClaimedAmount, caller); err != nil {
		observability.RecordOperationError("claim_swap", reason(err))
		return nil, fmt.Errorf("swap claim on stream %d: %w", streamID, err)
	}

	observability.RecordClaim("swap")
	observability.RecordOperationLatency("claim_swap", time.Since(start).Seconds())
	return res, nil
}

// claimCommit performs the stateful half of a claim: role and status gates,
// balance computation, persistence, certificate bookkeeping, and event
// emission. The payout itself is the caller's responsibility. Callers hold
// the engine mutex.
func (e *Engine) claimCommit(ctx context.Context, streamID int64, caller domain.Address) (*domain.ClaimResult, error) {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return nil, err
	}

	role, err := e.resolveRole(ctx, s, caller)
	if err != nil {
		return nil, err
	}
	if role != certificate.RoleRecipient {
		return nil, ErrInvalidRole
	}

	now := e.clock()
	status := accounting.StatusOf(s, now)
	if !status.Warm() && status != domain.StatusSettled {
		return nil, ErrCannotClaim
	}

	amount := accounting.RecipientBalance(s, now)
	if amount.Sign() == 0 {
		return nil, ErrZeroClaim
	}

	finalized := now >= s.EndTime
	if finalized {
		if err := e.streams.Delete(ctx, streamID); err != nil {
			return nil, fmt.Errorf("delete drained stream %d: %w", streamID, err)
		}
		if err := e.certs.Burn(ctx, s.CertificateNonce); err != nil {
			return nil, fmt.Errorf("burn certificate %d: %w", s.CertificateNonce, err)
		}
		observability.RecordStreamFinished()
	} else {
		s.ClaimedAmount = new(big.Int).Add(s.ClaimedAmount, amount)
		if err := e.streams.Update(ctx, s); err != nil {
			return nil, fmt.Errorf("update stream %d: %w", streamID, err)
		}
		remaining := new(big.Int).Sub(s.Deposit, s.ClaimedAmount)
		if err := e.certs.UpdateRemaining(ctx, s.CertificateNonce, remaining); err != nil {
			return nil, fmt.Errorf("update certificate %d metadata: %w", s.CertificateNonce, err)
		}
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventClaim,
		StreamID:  streamID,
		Caller:    caller,
		Amount:    new(big.Int).Set(amount),
		Finalized: finalized,
		Timestamp: now,
	})
	if finalized {
		e.emit(ctx, &domain.EventRecord{
			Type:      domain.EventFinishedStream,
			StreamID:  streamID,
			Caller:    caller,
			Timestamp: now,
		})
	}

	return &domain.ClaimResult{
		StreamID:         streamID,
		CertificateNonce: s.CertificateNonce,
		PaymentAsset:     s.PaymentAsset,
		PaymentSubID:     s.PaymentSubID,
		ClaimedAmount:    amount,
		IsFinalized:      finalized,
	}, nil
}

// ClaimAfterCancel settles one half of a cancelled stream's snapshot: the
// sender's half when called by the sender, the recipient's half when called
// by the certificate holder. The record is deleted once both halves are
// zero; the certificate burns when the recipient half settles.
func (e *Engine) ClaimAfterCancel(ctx context.Context, streamID int64, caller domain.Address) (*domain.ClaimResult, error) {
	start := time.Now()

	e.mu.Lock()
	res, err := e.claimAfterCancel(ctx, streamID, caller)
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("claim_after_cancel", reason(err))
		return nil, err
	}
	observability.RecordClaim("after_cancel")
	observability.RecordOperationLatency("claim_after_cancel", time.Since(start).Seconds())
	return res, nil
}

func (e *Engine) claimAfterCancel(ctx context.Context, streamID int64, caller domain.Address) (*domain.ClaimResult, error) {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !s.Canceled() {
		return nil, ErrNotCancelled
	}

	role, err := e.resolveRole(ctx, s, caller)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	snapshot := s.BalancesAfterCancel

	var half *big.Int
	var payee domain.Address
	switch role {
	case certificate.RoleSender:
		half = snapshot.SenderBalance
		payee = s.Sender
	case certificate.RoleRecipient:
		half = snapshot.RecipientBalance
		payee = caller
	default:
		return nil, ErrInvalidRole
	}

	if half.Sign() == 0 {
		return nil, ErrZeroClaim
	}
	amount := new(big.Int).Set(half)
	half.SetInt64(0)

	if role == certificate.RoleRecipient {
		if err := e.certs.Burn(ctx, s.CertificateNonce); err != nil {
			return nil, fmt.Errorf("burn certificate %d: %w", s.CertificateNonce, err)
		}
	}

	drained := snapshot.SenderBalance.Sign() == 0 && snapshot.RecipientBalance.Sign() == 0
	if drained {
		if err := e.streams.Delete(ctx, streamID); err != nil {
			return nil, fmt.Errorf("delete drained stream %d: %w", streamID, err)
		}
		observability.RecordStreamFinished()
	} else {
		if err := e.streams.Update(ctx, s); err != nil {
			return nil, fmt.Errorf("update stream %d: %w", streamID, err)
		}
	}

	if err := e.ledger.Transfer(ctx, s.PaymentAsset, s.PaymentSubID, amount, payee); err != nil {
		return nil, fmt.Errorf("pay out settlement on stream %d: %w", streamID, err)
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventClaim,
		StreamID:  streamID,
		Caller:    caller,
		Amount:    new(big.Int).Set(amount),
		Finalized: drained,
		Timestamp: now,
	})
	if drained {
		e.emit(ctx, &domain.EventRecord{
			Type:      domain.EventFinishedStream,
			StreamID:  streamID,
			Caller:    caller,
			Timestamp: now,
		})
	}

	return &domain.ClaimResult{
		StreamID:         streamID,
		CertificateNonce: s.CertificateNonce,
		PaymentAsset:     s.PaymentAsset,
		PaymentSubID:     s.PaymentSubID,
		ClaimedAmount:    amount,
		IsFinalized:      drained,
	}, nil
}
