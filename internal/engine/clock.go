package engine

import "time"

// TimeSource supplies the wall-clock instant for every stored
// timestamp and for vote expiry checks. The engine never calls
// time.Now directly; tests substitute a deterministic source.
type TimeSource interface {
	Now() time.Time
}

// SystemTime is the production TimeSource backed by the OS clock.
type SystemTime struct{}

func (SystemTime) Now() time.Time {
	return time.Now().UTC()
}
