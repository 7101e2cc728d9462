package protocol

import "errors"

// Every operation either completes or fails with one of these sentinels and
// no state change. Nothing is retried internally; retry is the caller's
// concern.
var (
	// ErrInvalidStream: the stream id is unknown or already drained.
	ErrInvalidStream = errors.New("stream does not exist")

	// ErrInvalidRole: the caller has no role on the stream, or the wrong one.
	ErrInvalidRole = errors.New("caller does not have the required role")

	// ErrCannotClaim: the stream's status does not allow claiming.
	ErrCannotClaim = errors.New("stream status does not allow claiming")

	// ErrCannotCancel: the stream is not warm or cancellation was renounced.
	ErrCannotCancel = errors.New("stream status does not allow cancellation")

	// ErrZeroClaim: the claimable amount computed for the caller is zero.
	ErrZeroClaim = errors.New("nothing to claim")

	// ErrAlreadyCancelled: the stream already carries a settlement snapshot.
	ErrAlreadyCancelled = errors.New("stream is already cancelled")

	// ErrNotCancelled: settlement was requested on a live stream.
	ErrNotCancelled = errors.New("stream is not cancelled")

	// ErrInvalidCertificate: the certificate bound to the stream is missing
	// or does not match.
	ErrInvalidCertificate = errors.New("certificate does not match the stream")

	// ErrInvalidRecipient: the recipient address is malformed, the sender
	// itself, or the protocol account.
	ErrInvalidRecipient = errors.New("invalid stream recipient")

	// ErrZeroDeposit: the deposit, net of fees, is not positive.
	ErrZeroDeposit = errors.New("deposit must be positive")

	// ErrInvalidWindow: start time in the past or end time not after start.
	ErrInvalidWindow = errors.New("invalid stream window")

	// ErrInvalidCliff: the cliff does not end before the stream does.
	ErrInvalidCliff = errors.New("cliff must end before the stream does")

	// ErrInvalidBrokerFee: the broker fee exceeds the maximum.
	ErrInvalidBrokerFee = errors.New("broker fee exceeds the maximum")

	// ErrInvalidFee: a protocol fee rate must be positive and below 100%.
	ErrInvalidFee = errors.New("invalid protocol fee rate")
)

// reason maps an operation error to a short metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidStream):
		return "invalid_stream"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, ErrCannotClaim):
		return "cannot_claim"
	case errors.Is(err, ErrCannotCancel):
		return "cannot_cancel"
	case errors.Is(err, ErrZeroClaim):
		return "zero_claim"
	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, ErrNotCancelled):
		return "not_cancelled"
	case errors.Is(err, ErrInvalidCertificate):
		return "invalid_certificate"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrZeroDeposit):
		return "zero_deposit"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrInvalidCliff):
		return "invalid_cliff"
	case errors.Is(err, ErrInvalidBrokerFee):
		return "invalid_broker_fee"
	case errors.Is(err, ErrInvalidFee):
		return "invalid_fee"
	default:
		return "internal"
	}
}
