package timeutils

import "time"

// TimeProvider abstracts the wall clock so captures can be stamped
// deterministically in tests.
type TimeProvider interface {
	Now() time.Time
}

type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

func NewRealTimeProvider() *RealTimeProvider {
	return &RealTimeProvider{}
}
