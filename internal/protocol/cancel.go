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
)

// CancelStream freezes a cancelable stream at the current instant. The
// sender and recipient entitlements are computed once, stored in the
// settlement snapshot, and never recomputed; delaying settlement can no
// longer change what either side is owed.
//
// With withClaim set (the default behavior of the public API surface) both
// sides are settled immediately and the stream is removed. Without it, each
// side later drains its half through ClaimAfterCancel.
func (e *Engine) CancelStream(ctx context.Context, streamID int64, caller domain.Address, withClaim bool) error {
	start := time.Now()

	e.mu.Lock()
	err := e.cancelStream(ctx, streamID, caller, withClaim)
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("cancel", reason(err))
		return err
	}
	observability.RecordCancel()
	observability.RecordOperationLatency("cancel", time.Since(start).Seconds())
	return nil
}

func (e *Engine) cancelStream(ctx context.Context, streamID int64, caller domain.Address, withClaim bool) error {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return err
	}
	if s.Canceled() {
		return ErrAlreadyCancelled
	}

	now := e.clock()
	if !accounting.IsWarm(s, now) || !s.CanCancel {
		return ErrCannotCancel
	}

	if _, err := e.resolveRole(ctx, s, caller); err != nil {
		return err
	}

	// Both halves derive from the same recipient computation so the
	// snapshot conserves the deposit exactly.
	recipientBal := accounting.RecipientBalance(s, now)
	senderBal := new(big.Int).Sub(s.Deposit, recipientBal)
	senderBal.Sub(senderBal, s.ClaimedAmount)

	s.BalancesAfterCancel = &domain.BalancesAfterCancel{
		SenderBalance:    senderBal,
		RecipientBalance: recipientBal,
	}
	if err := e.streams.Update(ctx, s); err != nil {
		return fmt.Errorf("update stream %d: %w", streamID, err)
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventCancelStream,
		StreamID:  streamID,
		Caller:    caller,
		Timestamp: now,
	})

	if !withClaim {
		return nil
	}
	return e.settleImmediately(ctx, s, caller, now)
}

// settleImmediately drains both snapshot halves right after cancellation:
// the recipient half goes to the certificate holder, the sender half back
// to the sender, the certificate burns, and the record is removed.
func (e *Engine) settleImmediately(ctx context.Context, s *domain.Stream, caller domain.Address, now int64) error {
	snapshot := s.BalancesAfterCancel

	holder, err := e.certs.Owner(ctx, s.CertificateNonce)
	if err != nil {
		return fmt.Errorf("resolve certificate %d holder: %w", s.CertificateNonce, err)
	}

	if err := e.streams.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("delete cancelled stream %d: %w", s.ID, err)
	}
	if err := e.certs.Burn(ctx, s.CertificateNonce); err != nil {
		return fmt.Errorf("burn certificate %d: %w", s.CertificateNonce, err)
	}
	observability.RecordStreamFinished()

	if snapshot.RecipientBalance.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, s.PaymentAsset, s.PaymentSubID, snapshot.RecipientBalance, holder); err != nil {
			return fmt.Errorf("pay out recipient settlement on stream %d: %w", s.ID, err)
		}
		e.emit(ctx, &domain.EventRecord{
			Type:      domain.EventClaim,
			StreamID:  s.ID,
			Caller:    holder,
			Amount:    new(big.Int).Set(snapshot.RecipientBalance),
			Finalized: true,
			Timestamp: now,
		})
	}
	if snapshot.SenderBalance.Sign() > 0 {
		if err := e.ledger.Transfer(ctx, s.PaymentAsset, s.PaymentSubID, snapshot.SenderBalance, s.Sender); err != nil {
			return fmt.Errorf("pay out sender settlement on stream %d: %w", s.ID, err)
		}
		e.emit(ctx, &domain.EventRecord{
			Type:      domain.EventClaim,
			StreamID:  s.ID,
			Caller:    s.Sender,
			Amount:    new(big.Int).Set(snapshot.SenderBalance),
			Finalized: true,
			Timestamp: now,
		})
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventFinishedStream,
		StreamID:  s.ID,
		Caller:    caller,
		Timestamp: now,
	})
	return nil
}

// RenounceCancel irreversibly gives up the sender's right to cancel a
// stream. Only the sender may renounce, and only while the stream is warm.
func (e *Engine) RenounceCancel(ctx context.Context, streamID int64, caller domain.Address) error {
	start := time.Now()

	e.mu.Lock()
	err := e.renounceCancel(ctx, streamID, caller)
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("renounce", reason(err))
		return err
	}
	observability.RecordRenounce()
	observability.RecordOperationLatency("renounce", time.Since(start).Seconds())
	return nil
}

func (e *Engine) renounceCancel(ctx context.Context, streamID int64, caller domain.Address) error {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return err
	}

	role, err := e.resolveRole(ctx, s, caller)
	if err != nil {
		return err
	}
	if role != certificate.RoleSender {
		return ErrInvalidRole
	}

	if s.Canceled() {
		return ErrAlreadyCancelled
	}
	now := e.clock()
	if !accounting.IsWarm(s, now) || !s.CanCancel {
		return ErrCannotCancel
	}

	s.CanCancel = false
	if err := e.streams.Update(ctx, s); err != nil {
		return fmt.Errorf("update stream %d: %w", streamID, err)
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventRenounceCancel,
		StreamID:  streamID,
		Caller:    caller,
		Timestamp: now,
	})
	return nil
}
