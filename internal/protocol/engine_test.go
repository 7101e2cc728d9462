package protocol_test

import (
	"context"
	"io"
	"log"
	"math/big"
	"sync"
	"testing"

	"github.com/CoinDrip-finance/protocol-v2/internal/certificate"
	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/payment"
	"github.com/CoinDrip-finance/protocol-v2/internal/protocol"
	"github.com/CoinDrip-finance/protocol-v2/internal/storage/memory"
)

const (
	senderAddr    = domain.Address("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde")
	recipientAddr = domain.Address("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	strangerAddr  = domain.Address("7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv")
	protocolAddr  = domain.Address("So11111111111111111111111111111111111111112")
	treasuryAddr  = domain.Address("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	brokerAddr    = domain.Address("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	// offCurveAddr is program-derived: well-formed base58, but not a wallet.
	offCurveAddr = domain.Address("FKhK8Y4RYW8x5AwqhCnVvdKVXHV6C7HJ5MHn2riv3Frb")

	testAsset = "USDC"
)

// t0 is the fixed instant every test environment starts at.
const t0 = int64(1_000_000)

// captureSink records emitted events for assertions.
type captureSink struct {
	mu      sync.Mutex
	records []*domain.EventRecord
}

func (s *captureSink) Emit(ctx context.Context, rec *domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) byType(eventType string) []*domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.EventRecord
	for _, rec := range s.records {
		if rec.Type == eventType {
			out = append(out, rec)
		}
	}
	return out
}

// env wires an engine to in-memory collaborators with a controllable clock.
type env struct {
	engine  *protocol.Engine
	streams *memory.StreamStore
	fees    *memory.FeeStore
	certs   *certificate.MemoryRegistry
	ledger  *payment.MemoryLedger
	sink    *captureSink

	mu  sync.Mutex
	now int64
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		streams: memory.NewStreamStore(),
		fees:    memory.NewFeeStore(),
		certs:   certificate.NewMemoryRegistry(),
		ledger:  payment.NewMemoryLedger(),
		sink:    &captureSink{},
		now:     t0,
	}
	e.engine = protocol.New(protocol.Config{
		Streams:         e.streams,
		Fees:            e.fees,
		Certificates:    e.certs,
		Ledger:          e.ledger,
		Router:          payment.NewPassthroughRouter(e.ledger),
		Sink:            e.sink,
		Clock:           e.clock,
		ProtocolAccount: protocolAddr,
		Treasury:        treasuryAddr,
		Logger:          log.New(io.Discard, "", 0),
	})
	return e
}

func (e *env) clock() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// advance moves the clock forward by d seconds.
func (e *env) advance(d int64) {
	e.mu.Lock()
	e.now += d
	e.mu.Unlock()
}

// setNow pins the clock to an absolute instant.
func (e *env) setNow(now int64) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// linearParams is the default creation request used across tests: 3000
// units streamed linearly over 7200 seconds starting at t0.
func linearParams() protocol.CreateParams {
	return protocol.CreateParams{
		Sender:       senderAddr,
		Recipient:    recipientAddr,
		PaymentAsset: testAsset,
		Deposit:      big.NewInt(3000),
		StartTime:    t0,
		EndTime:      t0 + 7200,
		CanCancel:    true,
	}
}

// mustCreate creates a stream and fails the test on error.
func (e *env) mustCreate(t *testing.T, p protocol.CreateParams) *domain.Stream {
	t.Helper()

	s, err := e.engine.CreateStream(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateStream failed: %v", err)
	}
	return s
}
