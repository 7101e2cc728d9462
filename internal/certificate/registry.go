// Package certificate manages the transferable ownership tokens bound 1:1
// to streams. Whoever holds a stream's certificate owns the recipient side
// of that stream; the sender role is fixed at creation and never moves.
package certificate

import (
	"context"
	"errors"
	"math/big"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
)

var (
	// ErrUnknownCertificate is returned when no certificate exists for a nonce.
	ErrUnknownCertificate = errors.New("unknown certificate")

	// ErrNoRole is returned when an account is neither the stream's sender
	// nor the holder of its certificate.
	ErrNoRole = errors.New("account holds no role on this stream")

	// ErrNotOwner is returned when a transfer is attempted by a non-holder.
	ErrNotOwner = errors.New("account does not hold this certificate")
)

// Role identifies which side of a stream an account acts as.
type Role int

const (
	// RoleSender is the party that locked the deposit.
	RoleSender Role = iota + 1
	// RoleRecipient is the current holder of the stream's certificate.
	RoleRecipient
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleRecipient:
		return "recipient"
	default:
		return "none"
	}
}

// Registry is the certificate collaborator boundary. The protocol engine
// mints a certificate when a stream is created, consults it to resolve the
// caller's role, mirrors the remaining entitlement into its metadata, and
// burns it when the recipient side fully settles.
type Registry interface {
	// Mint issues a new certificate for a stream to an initial owner and
	// returns its nonce. The remaining metadata starts at the net deposit.
	Mint(ctx context.Context, streamID int64, owner domain.Address, remaining *big.Int) (int64, error)

	// Burn destroys a certificate. Returns ErrUnknownCertificate if absent.
	Burn(ctx context.Context, nonce int64) error

	// Transfer moves a certificate to a new owner. Only the current holder
	// may transfer; returns ErrNotOwner otherwise.
	Transfer(ctx context.Context, nonce int64, from, to domain.Address) error

	// Owner returns the current holder of a certificate.
	Owner(ctx context.Context, nonce int64) (domain.Address, error)

	// OwnerRole resolves the role an account has on a stream: RoleSender
	// when the account is the stream's sender, RoleRecipient when it holds
	// the stream's certificate, ErrNoRole otherwise.
	OwnerRole(ctx context.Context, nonce int64, s *domain.Stream, account domain.Address) (Role, error)

	// UpdateRemaining mirrors the stream's unclaimed entitlement into the
	// certificate metadata after a non-final claim.
	UpdateRemaining(ctx context.Context, nonce int64, remaining *big.Int) error
}
