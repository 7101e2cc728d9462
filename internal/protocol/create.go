package protocol

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/CoinDrip-finance/protocol-v2/internal/accounting"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/observability"
)

// CreateParams describes a stream creation request. Deposit is the gross
// amount paid in; protocol and broker fees are deducted from it and the
// remainder becomes the streamed deposit.
type CreateParams struct {
	Sender    domain.Address
	Recipient domain.Address

	PaymentAsset string
	PaymentSubID int64
	Deposit      *big.Int

	StartTime int64
	EndTime   int64
	Cliff     int64 // seconds after StartTime, 0 for none

	CanCancel bool

	// Segments is the release curve. Empty means a single linear segment
	// spanning the whole window.
	Segments []domain.Segment

	// Broker is an optional per-creation fee taken after the protocol fee.
	Broker *domain.BrokerFee
}

// CreateStream validates the request, deducts fees, mints the ownership
// certificate, and persists the stream. The returned record reflects the
// net deposit actually streamed.
func (e *Engine) CreateStream(ctx context.Context, p CreateParams) (*domain.Stream, error) {
	start := time.Now()

	e.mu.Lock()
	s, err := e.createStream(ctx, p)
	e.mu.Unlock()

	if err != nil {
		observability.RecordOperationError("create", reason(err))
		return nil, err
	}
	observability.RecordStreamCreated(s.ID)
	observability.RecordOperationLatency("create", time.Since(start).Seconds())
	return s, nil
}

// CreateStreamDuration creates a cancelable stream starting now and running
// for duration seconds, with the default linear curve.
func (e *Engine) CreateStreamDuration(ctx context.Context, sender, recipient domain.Address, asset string, subID int64, deposit *big.Int, duration, cliff int64) (*domain.Stream, error) {
	now := e.clock()
	return e.CreateStream(ctx, CreateParams{
		Sender:       sender,
		Recipient:    recipient,
		PaymentAsset: asset,
		PaymentSubID: subID,
		Deposit:      deposit,
		StartTime:    now,
		EndTime:      now + duration,
		Cliff:        cliff,
		CanCancel:    true,
	})
}

func (e *Engine) createStream(ctx context.Context, p CreateParams) (*domain.Stream, error) {
	now := e.clock()

	// The recipient holds the certificate, so it must be a wallet address,
	// not a program-derived one.
	if !p.Recipient.OnCurve() || p.Recipient == p.Sender || p.Recipient == e.protocolAccount {
		return nil, ErrInvalidRecipient
	}
	if p.Deposit == nil || p.Deposit.Sign() <= 0 {
		return nil, ErrZeroDeposit
	}
	if p.StartTime < now || p.EndTime <= p.StartTime {
		return nil, ErrInvalidWindow
	}
	if p.Cliff < 0 || (p.Cliff > 0 && p.StartTime+p.Cliff >= p.EndTime) {
		return nil, ErrInvalidCliff
	}
	if p.Broker != nil {
		if !p.Broker.Address.OnCurve() {
			return nil, ErrInvalidBrokerFee
		}
		if p.Broker.FeeBps == nil || p.Broker.FeeBps.Sign() < 0 ||
			p.Broker.FeeBps.Cmp(big.NewInt(domain.MaxBrokerFeeBps)) > 0 {
			return nil, ErrInvalidBrokerFee
		}
	}

	net, err := e.deductFees(ctx, p)
	if err != nil {
		return nil, err
	}
	if net.Sign() <= 0 {
		return nil, ErrZeroDeposit
	}

	duration := p.EndTime - p.StartTime
	segments := p.Segments
	if len(segments) == 0 {
		segments = []domain.Segment{{
			Amount:   new(big.Int).Set(net),
			Exponent: domain.LinearExponent(),
			Duration: duration,
		}}
	} else if err := accounting.ValidateSegments(net, duration, segments); err != nil {
		return nil, err
	}

	id, err := e.streams.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate stream id: %w", err)
	}
	nonce, err := e.certs.Mint(ctx, id, p.Recipient, net)
	if err != nil {
		return nil, fmt.Errorf("mint certificate for stream %d: %w", id, err)
	}

	s := &domain.Stream{
		ID:               id,
		Sender:           p.Sender,
		CertificateNonce: nonce,
		PaymentAsset:     p.PaymentAsset,
		PaymentSubID:     p.PaymentSubID,
		Deposit:          net,
		ClaimedAmount:    new(big.Int),
		CanCancel:        p.CanCancel,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		Cliff:            p.Cliff,
		Segments:         segments,
		CreatedAt:        now,
	}
	if err := e.streams.Insert(ctx, s.Clone()); err != nil {
		// The certificate must not outlive a stream that was never stored.
		if berr := e.certs.Burn(ctx, nonce); berr != nil {
			e.logger.Printf("burn certificate %d after failed insert: %v", nonce, berr)
		}
		return nil, fmt.Errorf("insert stream %d: %w", id, err)
	}

	e.emit(ctx, &domain.EventRecord{
		Type:      domain.EventCreateStream,
		StreamID:  id,
		Caller:    p.Sender,
		Amount:    new(big.Int).Set(net),
		Timestamp: now,
	})
	return s.Clone(), nil
}

// deductFees transfers the protocol fee to the treasury and the broker fee
// to the broker, returning the net deposit to stream.
func (e *Engine) deductFees(ctx context.Context, p CreateParams) (*big.Int, error) {
	net := new(big.Int).Set(p.Deposit)

	bps, err := e.ProtocolFee(ctx, p.PaymentAsset)
	if err != nil {
		return nil, err
	}
	if bps.Sign() > 0 {
		fee := feeOf(net, bps)
		if fee.Sign() > 0 {
			if err := e.ledger.Transfer(ctx, p.PaymentAsset, p.PaymentSubID, fee, e.treasury); err != nil {
				return nil, fmt.Errorf("transfer protocol fee: %w", err)
			}
			net.Sub(net, fee)
		}
	}

	if p.Broker != nil && p.Broker.FeeBps != nil && p.Broker.FeeBps.Sign() > 0 {
		fee := feeOf(net, p.Broker.FeeBps)
		if fee.Sign() > 0 {
			if err := e.ledger.Transfer(ctx, p.PaymentAsset, p.PaymentSubID, fee, p.Broker.Address); err != nil {
				return nil, fmt.Errorf("transfer broker fee: %w", err)
			}
			net.Sub(net, fee)
		}
	}

	return net, nil
}

// feeOf computes amount * bps / 10000, truncating.
func feeOf(amount, bps *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, bps)
	return fee.Div(fee, big.NewInt(domain.BpsDenominator))
}
