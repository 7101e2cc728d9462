// Package protocol implements the stream operations: creation with fee
// deduction, claims (direct, via swap, and after cancellation), cancellation
// with balance freezing, and renouncing the right to cancel. All balance
// math is delegated to the accounting package; this package owns the state
// transitions and their gating.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/CoinDrip-finance/protocol-v2/internal/accounting"
	"github.com/CoinDrip-finance/protocol-v2/internal/certificate"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/events"
	"github.com/CoinDrip-finance/protocol-v2/internal/observability"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage"
)

// Clock supplies the current time in unix seconds. Tests inject a fixed
// clock so balances are deterministic.
type Clock func() int64

// Config wires an Engine to its stores and collaborators.
type Config struct {
	Streams      storage.StreamStore
	Fees         storage.FeeStore
	Certificates certificate.Registry
	Ledger       payment.Ledger
	Router       payment.SwapRouter

	// Sink receives protocol events; defaults to a NopSink.
	Sink events.Sink

	// Clock defaults to time.Now in unix seconds.
	Clock Clock

	// ProtocolAccount is the engine's own account; it can never be a
	// stream recipient.
	ProtocolAccount domain.Address

	// Treasury receives protocol fees.
	Treasury domain.Address

	Logger *log.Logger
}

// Engine executes protocol operations. A single mutex serializes all
// state-mutating calls; each operation stages its reads and computation
// first and persists once, so a failed operation leaves no partial state.
type Engine struct {
	mu sync.Mutex

	streams storage.StreamStore
	fees    storage.FeeStore
	certs   certificate.Registry
	ledger  payment.Ledger
	router  payment.SwapRouter
	sink    events.Sink
	clock   Clock

	protocolAccount domain.Address
	treasury        domain.Address

	logger *log.Logger
}

// New creates an Engine from a Config.
func New(cfg Config) *Engine {
	sink := cfg.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[protocol] ", log.LstdFlags)
	}
	return &Engine{
		streams:         cfg.Streams,
		fees:            cfg.Fees,
		certs:           cfg.Certificates,
		ledger:          cfg.Ledger,
		router:          cfg.Router,
		sink:            sink,
		clock:           clock,
		protocolAccount: cfg.ProtocolAccount,
		treasury:        cfg.Treasury,
		logger:          logger,
	}
}

// getStream loads a stream, mapping a missing record to ErrInvalidStream.
func (e *Engine) getStream(ctx context.Context, streamID int64) (*domain.Stream, error) {
	s, err := e.streams.GetByID(ctx, streamID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidStream
		}
		return nil, fmt.Errorf("load stream %d: %w", streamID, err)
	}
	return s, nil
}

// resolveRole determines the caller's role on a stream, mapping registry
// sentinels into the operation error taxonomy.
func (e *Engine) resolveRole(ctx context.Context, s *domain.Stream, caller domain.Address) (certificate.Role, error) {
	role, err := e.certs.OwnerRole(ctx, s.CertificateNonce, s, caller)
	if err != nil {
		if errors.Is(err, certificate.ErrUnknownCertificate) {
			return 0, ErrInvalidCertificate
		}
		if errors.Is(err, certificate.ErrNoRole) {
			return 0, ErrInvalidRole
		}
		return 0, fmt.Errorf("resolve role on stream %d: %w", s.ID, err)
	}
	return role, nil
}

// emit delivers an event to the sink. Emission is ancillary: a sink failure
// is logged, never propagated into the operation that produced the event.
func (e *Engine) emit(ctx context.Context, rec *domain.EventRecord) {
	if err := e.sink.Emit(ctx, rec); err != nil {
		e.logger.Printf("emit %s event for stream %d: %v", rec.Type, rec.StreamID, err)
		return
	}
	observability.RecordEventEmitted(rec.Type)
}

// StatusOf classifies a stream by id at the current instant. A missing
// record with an id at or below the allocation counter is Finished; an id
// never allocated is ErrInvalidStream.
func (e *Engine) StatusOf(ctx context.Context, streamID int64) (domain.Status, error) {
	s, err := e.streams.GetByID(ctx, streamID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("load stream %d: %w", streamID, err)
		}
		last, lerr := e.streams.LastID(ctx)
		if lerr != nil {
			return "", fmt.Errorf("load last stream id: %w", lerr)
		}
		if streamID >= 1 && streamID <= last {
			return domain.StatusFinished, nil
		}
		return "", ErrInvalidStream
	}
	return accounting.StatusOf(s, e.clock()), nil
}

// GetStream returns a copy of a stream record.
func (e *Engine) GetStream(ctx context.Context, streamID int64) (*domain.Stream, error) {
	return e.getStream(ctx, streamID)
}

// GetStreamByCertificate returns the stream bound to a certificate nonce.
func (e *Engine) GetStreamByCertificate(ctx context.Context, nonce int64) (*domain.Stream, error) {
	s, err := e.streams.GetByCertificateNonce(ctx, nonce)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidStream
		}
		return nil, fmt.Errorf("load stream for certificate %d: %w", nonce, err)
	}
	return s, nil
}

// RecipientBalanceOf returns the amount currently claimable by the
// certificate holder. For a cancelled stream this is the frozen recipient
// half of the snapshot.
func (e *Engine) RecipientBalanceOf(ctx context.Context, streamID int64) (*big.Int, error) {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if s.Canceled() {
		return new(big.Int).Set(s.BalancesAfterCancel.RecipientBalance), nil
	}
	return accounting.RecipientBalance(s, e.clock()), nil
}

// SenderBalanceOf returns the amount currently owed back to the sender.
func (e *Engine) SenderBalanceOf(ctx context.Context, streamID int64) (*big.Int, error) {
	s, err := e.getStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if s.Canceled() {
		return new(big.Int).Set(s.BalancesAfterCancel.SenderBalance), nil
	}
	return accounting.SenderBalance(s, e.clock()), nil
}

// SetProtocolFee sets the per-asset protocol fee rate in basis points.
func (e *Engine) SetProtocolFee(ctx context.Context, asset string, bps *big.Int) error {
	if bps == nil || bps.Sign() <= 0 || bps.Cmp(big.NewInt(domain.BpsDenominator)) >= 0 {
		return ErrInvalidFee
	}
	if err := e.fees.SetProtocolFee(ctx, asset, bps); err != nil {
		return fmt.Errorf("set protocol fee for %s: %w", asset, err)
	}
	return nil
}

// RemoveProtocolFee clears the fee rate for an asset.
func (e *Engine) RemoveProtocolFee(ctx context.Context, asset string) error {
	if err := e.fees.RemoveProtocolFee(ctx, asset); err != nil {
		return fmt.Errorf("remove protocol fee for %s: %w", asset, err)
	}
	return nil
}

// ProtocolFee returns the configured fee rate for an asset, zero when none.
func (e *Engine) ProtocolFee(ctx context.Context, asset string) (*big.Int, error) {
	bps, err := e.fees.GetProtocolFee(ctx, asset)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("get protocol fee for %s: %w", asset, err)
	}
	return bps, nil
}
