package certificate

import (
	"context"
	"math/big"
	"sync"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

// record is one live certificate.
type record struct {
	streamID  int64
	owner     domain.Address
	remaining *big.Int
}

// MemoryRegistry implements Registry in process memory. Nonces are
// allocated monotonically and never reused, matching stream ids.
type MemoryRegistry struct {
	mu        sync.Mutex
	lastNonce int64
	records   map[int64]*record
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[int64]*record),
	}
}

// Compile-time interface check.
var _ Registry = (*MemoryRegistry)(nil)

// Mint issues a new certificate and returns its nonce.
func (r *MemoryRegistry) Mint(ctx context.Context, streamID int64, owner domain.Address, remaining *big.Int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastNonce++
	nonce := r.lastNonce
	rem := new(big.Int)
	if remaining != nil {
		rem.Set(remaining)
	}
	r.records[nonce] = &record{
		streamID:  streamID,
		owner:     owner,
		remaining: rem,
	}
	return nonce, nil
}

// Burn destroys a certificate.
func (r *MemoryRegistry) Burn(ctx context.Context, nonce int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[nonce]; !ok {
		return ErrUnknownCertificate
	}
	delete(r.records, nonce)
	return nil
}

// Transfer moves a certificate to a new owner.
func (r *MemoryRegistry) Transfer(ctx context.Context, nonce int64, from, to domain.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[nonce]
	if !ok {
		return ErrUnknownCertificate
	}
	if rec.owner != from {
		return ErrNotOwner
	}
	rec.owner = to
	return nil
}

// Owner returns the current holder of a certificate.
func (r *MemoryRegistry) Owner(ctx context.Context, nonce int64) (domain.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[nonce]
	if !ok {
		return "", ErrUnknownCertificate
	}
	return rec.owner, nil
}

// OwnerRole resolves the role an account has on a stream. Holding the
// certificate wins over being the sender: a sender who acquired the
// certificate claims the recipient side. The sender role survives the
// certificate's burn.
func (r *MemoryRegistry) OwnerRole(ctx context.Context, nonce int64, s *domain.Stream, account domain.Address) (Role, error) {
	r.mu.Lock()
	rec, exists := r.records[nonce]
	var holder domain.Address
	if exists {
		holder = rec.owner
	}
	r.mu.Unlock()

	if exists && holder == account {
		return RoleRecipient, nil
	}
	if s != nil && account == s.Sender {
		return RoleSender, nil
	}
	if !exists {
		return 0, ErrUnknownCertificate
	}
	return 0, ErrNoRole
}

// UpdateRemaining mirrors the unclaimed entitlement into the certificate.
func (r *MemoryRegistry) UpdateRemaining(ctx context.Context, nonce int64, remaining *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[nonce]
	if !ok {
		return ErrUnknownCertificate
	}
	if remaining == nil {
		rec.remaining = new(big.Int)
		return nil
	}
	rec.remaining = new(big.Int).Set(remaining)
	return nil
}

// Remaining returns the entitlement recorded on a certificate.
func (r *MemoryRegistry) Remaining(ctx context.Context, nonce int64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[nonce]
	if !ok {
		return nil, ErrUnknownCertificate
	}
	return new(big.Int).Set(rec.remaining), nil
}
