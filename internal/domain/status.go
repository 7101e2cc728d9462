package domain

// Status classifies a stream's lifecycle at an instant. It is always
// derived from stored fields plus the current time, never persisted.
type Status string

const (
	// StatusPending: now < start_time, nothing released yet.
	StatusPending Status = "PENDING"
	// StatusInProgress: start_time <= now < end_time.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCanceled: a cancellation snapshot exists. Overrides the
	// time-based states.
	StatusCanceled Status = "CANCELED"
	// StatusSettled: now >= end_time but the deposit is not fully claimed.
	StatusSettled Status = "SETTLED"
	// StatusFinished: terminal; fully claimed and the record removed.
	StatusFinished Status = "FINISHED"
)

// Warm reports whether the stream is still time-gated: cancellation and
// claim gating apply only to warm streams.
func (s Status) Warm() bool {
	return s == StatusPending || s == StatusInProgress
}

// Cold reports whether the stream is fully time-resolved.
func (s Status) Cold() bool {
	return !s.Warm()
}
