package domain

import "math/big"

// Event type identifiers, matching the protocol's emitted log names.
const (
	EventCreateStream   = "createStream"
	EventClaim          = "claimFromStream"
	EventCancelStream   = "cancelStream"
	EventRenounceCancel = "renounceCancelStream"
	EventFinishedStream = "finishedStream"
)

// EventRecord is one protocol event as archived and broadcast.
// Corresponds to the stream_events table in ClickHouse.
type EventRecord struct {
	Type      string   // one of the Event* constants
	StreamID  int64    // stream the event belongs to
	Caller    Address  // account that triggered the operation
	Amount    *big.Int // amount moved, nil when the event carries none
	Finalized bool     // claim events: true when the claim drained the stream
	Timestamp int64    // unix seconds at emission
}
