package protocol_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CoinDrip-finance/protocol-v2/internal/domain"
	"github.com/CoinDrip-finance/protocol-v2/internal/protocol"
)

func TestCancel_SnapshotAndTwoSidedSettlement(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())

	// Cancel at 50% elapsed: 1500 streamed, 1500 unstreamed.
	env.advance(3600)
	require.NoError(t, env.engine.CancelStream(ctx, s.ID, senderAddr, false))

	stored, err := env.engine.GetStream(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.BalancesAfterCancel)
	assert.Zero(t, stored.BalancesAfterCancel.SenderBalance.Cmp(big.NewInt(1500)))
	assert.Zero(t, stored.BalancesAfterCancel.RecipientBalance.Cmp(big.NewInt(1500)))

	status, err := env.engine.StatusOf(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, status)

	// The snapshot is frozen: a million seconds later nothing has moved.
	env.advance(1_000_000)
	bal, err := env.engine.RecipientBalanceOf(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Cmp(big.NewInt(1500)))

	// Recipient settles first: paid, certificate burned, record persists.
	res, err := env.engine.ClaimAfterCancel(ctx, s.ID, recipientAddr)
	require.NoError(t, err)
	assert.Zero(t, res.ClaimedAmount.Cmp(big.NewInt(1500)))
	assert.False(t, res.IsFinalized)
	assert.Zero(t, env.ledger.Balance(testAsset, 0, recipientAddr).Cmp(big.NewInt(1500)))
	_, err = env.certs.Owner(ctx, s.CertificateNonce)
	assert.Error(t, err)

	stored, err = env.engine.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.BalancesAfterCancel.RecipientBalance.Sign())
	assert.Zero(t, stored.BalancesAfterCancel.SenderBalance.Cmp(big.NewInt(1500)))

	// Sender settles second: paid, record deleted.
	res, err = env.engine.ClaimAfterCancel(ctx, s.ID, senderAddr)
	require.NoError(t, err)
	assert.Zero(t, res.ClaimedAmount.Cmp(big.NewInt(1500)))
	assert.True(t, res.IsFinalized)
	assert.Zero(t, env.ledger.Balance(testAsset, 0, senderAddr).Cmp(big.NewInt(1500)))

	_, err = env.engine.GetStream(ctx, s.ID)
	assert.ErrorIs(t, err, protocol.ErrInvalidStream)
	status, err = env.engine.StatusOf(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, status)
}

func TestCancel_SnapshotConservesDepositAfterPartialClaim(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())

	env.advance(2400)
	_, err := env.engine.ClaimFromStream(ctx, s.ID, recipientAddr)
	require.NoError(t, err)

	env.advance(1200)
	require.NoError(t, env.engine.CancelStream(ctx, s.ID, senderAddr, false))

	stored, err := env.engine.GetStream(ctx, s.ID)
	require.NoError(t, err)
	snapshot := stored.BalancesAfterCancel

	// 1000 claimed, 500 more streamed by 3600s, 1500 never streamed.
	assert.Zero(t, snapshot.RecipientBalance.Cmp(big.NewInt(500)))
	assert.Zero(t, snapshot.SenderBalance.Cmp(big.NewInt(1500)))

	total := new(big.Int).Add(snapshot.SenderBalance, snapshot.RecipientBalance)
	total.Add(total, stored.ClaimedAmount)
	assert.Zero(t, total.Cmp(stored.Deposit))
}

func TestCancel_ImmediateSettlement(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())
	env.advance(3600)

	require.NoError(t, env.engine.CancelStream(ctx, s.ID, senderAddr, true))

	assert.Zero(t, env.ledger.Balance(testAsset, 0, recipientAddr).Cmp(big.NewInt(1500)))
	assert.Zero(t, env.ledger.Balance(testAsset, 0, senderAddr).Cmp(big.NewInt(1500)))

	_, err := env.engine.GetStream(ctx, s.ID)
	assert.ErrorIs(t, err, protocol.ErrInvalidStream)
	_, err = env.certs.Owner(ctx, s.CertificateNonce)
	assert.Error(t, err)

	assert.Len(t, env.sink.byType(domain.EventCancelStream), 1)
	assert.Len(t, env.sink.byType(domain.EventFinishedStream), 1)
}

func TestCancel_ImmediateSettlementPaysCertificateHolder(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())
	env.advance(3600)

	// The certificate changed hands before cancellation; the recipient
	// half follows it.
	require.NoError(t, env.certs.Transfer(ctx, s.CertificateNonce, recipientAddr, strangerAddr))
	require.NoError(t, env.engine.CancelStream(ctx, s.ID, senderAddr, true))

	assert.Zero(t, env.ledger.Balance(testAsset, 0, strangerAddr).Cmp(big.NewInt(1500)))
	assert.Zero(t, env.ledger.Balance(testAsset, 0, recipientAddr).Sign())
}

func TestCancel_Gates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())
	env.advance(3600)

	// A stranger has no role on the stream.
	err := env.engine.CancelStream(ctx, s.ID, strangerAddr, false)
	assert.ErrorIs(t, err, protocol.ErrInvalidRole)

	// The certificate holder may cancel, same as the sender.
	require.NoError(t, env.engine.CancelStream(ctx, s.ID, recipientAddr, false))

	err = env.engine.CancelStream(ctx, s.ID, senderAddr, false)
	assert.ErrorIs(t, err, protocol.ErrAlreadyCancelled)
}

func TestCancel_RequiresCancelableWarmStream(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	p := linearParams()
	p.CanCancel = false
	fixed := env.mustCreate(t, p)

	err := env.engine.CancelStream(ctx, fixed.ID, senderAddr, false)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)

	// A settled stream is past cancellation regardless of the flag.
	settled := env.mustCreate(t, linearParams())
	env.advance(7200)
	err = env.engine.CancelStream(ctx, settled.ID, senderAddr, false)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)

	// The status gate answers before any role question does.
	err = env.engine.CancelStream(ctx, settled.ID, strangerAddr, false)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)
}

func TestClaimAfterCancel_Gates(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())

	// Settlement before cancellation is meaningless.
	_, err := env.engine.ClaimAfterCancel(ctx, s.ID, senderAddr)
	assert.ErrorIs(t, err, protocol.ErrNotCancelled)

	// Cancel right at the start: everything is still the sender's.
	require.NoError(t, env.engine.CancelStream(ctx, s.ID, senderAddr, false))

	_, err = env.engine.ClaimAfterCancel(ctx, s.ID, recipientAddr)
	assert.ErrorIs(t, err, protocol.ErrZeroClaim)

	_, err = env.engine.ClaimAfterCancel(ctx, s.ID, strangerAddr)
	assert.ErrorIs(t, err, protocol.ErrInvalidRole)

	res, err := env.engine.ClaimAfterCancel(ctx, s.ID, senderAddr)
	require.NoError(t, err)
	assert.Zero(t, res.ClaimedAmount.Cmp(big.NewInt(3000)))
	assert.True(t, res.IsFinalized)

	// Both halves are zero, so the record is already gone.
	_, err = env.engine.ClaimAfterCancel(ctx, s.ID, senderAddr)
	assert.ErrorIs(t, err, protocol.ErrInvalidStream)
}

func TestRenounceCancel(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	s := env.mustCreate(t, linearParams())
	env.advance(100)

	// Only the sender may renounce.
	err := env.engine.RenounceCancel(ctx, s.ID, recipientAddr)
	assert.ErrorIs(t, err, protocol.ErrInvalidRole)

	require.NoError(t, env.engine.RenounceCancel(ctx, s.ID, senderAddr))

	stored, err := env.engine.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.CanCancel)

	// Irreversible: the stream can no longer be cancelled, nor renounced again.
	err = env.engine.CancelStream(ctx, s.ID, senderAddr, false)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)
	err = env.engine.RenounceCancel(ctx, s.ID, senderAddr)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)

	assert.Len(t, env.sink.byType(domain.EventRenounceCancel), 1)
}

func TestRenounceCancel_RejectedWhenCold(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	cancelled := env.mustCreate(t, linearParams())
	require.NoError(t, env.engine.CancelStream(ctx, cancelled.ID, senderAddr, false))
	err := env.engine.RenounceCancel(ctx, cancelled.ID, senderAddr)
	assert.ErrorIs(t, err, protocol.ErrAlreadyCancelled)

	settled := env.mustCreate(t, linearParams())
	env.advance(7200)
	err = env.engine.RenounceCancel(ctx, settled.ID, senderAddr)
	assert.ErrorIs(t, err, protocol.ErrCannotCancel)
}

func TestStatusOf_UnknownID(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// No stream was ever allocated with this id.
	_, err := env.engine.StatusOf(ctx, 99)
	assert.ErrorIs(t, err, protocol.ErrInvalidStream)

	s := env.mustCreate(t, linearParams())
	status, err := env.engine.StatusOf(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, status)
}
