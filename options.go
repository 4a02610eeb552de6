package dispatch

import (
	"io"
	"log/slog"
	"runtime"
	"time"
)

// options holds Dispatcher configuration, assembled by applying Option
// values over defaultOptions. Mirrors the teacher's clientOptions /
// defaultOptions pattern (options.go in the original), narrowed to this
// module's tunables: every dependency the Dispatcher needs (clock, sender,
// store, metrics, logger) is an explicit, injected option rather than
// reached for internally — config/settings loading stays a collaborator's
// concern per spec §1.
type options struct {
	logger *slog.Logger
	clock  Clock
	sender Sender
	store  SubscriptionStore

	registrar *InterfaceRegistrar
	metrics   *Metrics

	workerCount        int
	queueDepth         int
	replySweepInterval time.Duration

	envelopeInterceptors []EnvelopeInterceptor
	sendInterceptors     []SendInterceptor
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*options)

// WithLogger sets the logger every Dispatcher component logs through.
// If not provided, logs are discarded (the teacher's own default).
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests should supply a manual clock
// to make timer-driven assertions deterministic; production code should
// leave this unset (NewSystemClock is the default).
func WithClock(clk Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithSender sets the send-capability used to transmit outbound envelopes
// (Replies, SubscriptionPublications, Requests). Required for a Dispatcher
// that sends anything, including one that receives Requests (it replies
// through the Sender) or SubscriptionRequests (it publishes through it).
func WithSender(sender Sender) Option {
	return func(o *options) {
		o.sender = sender
	}
}

// WithStore sets the SubscriptionStore the PublicationManager persists
// provider-side subscription requests to. If unset, subscriptions do not
// survive a restart.
func WithStore(store SubscriptionStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithInterfaceRegistrar supplies a pre-populated InterfaceRegistrar,
// useful when providers register their method tables before constructing
// the Dispatcher. If unset, an empty registrar is created and can be
// reached via Dispatcher.Interpreter().
func WithInterfaceRegistrar(registrar *InterfaceRegistrar) Option {
	return func(o *options) {
		if registrar != nil {
			o.registrar = registrar
		}
	}
}

// WithMetrics enables prometheus instrumentation. If unset, metrics calls
// are no-ops.
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithWorkerCount sets the number of goroutines serving the inbound
// dispatch queue (default: runtime.GOMAXPROCS(0)).
func WithWorkerCount(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

// WithQueueDepth sets the inbound envelope queue's buffer size (default: 256).
func WithQueueDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueDepth = n
		}
	}
}

// WithReplySweepInterval sets how often the ReplyCallerDirectory scans for
// timed-out requests (default: 100ms, the floor spec §5 names).
func WithReplySweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.replySweepInterval = d
		}
	}
}

// WithEnvelopeInterceptors wraps inbound Envelope dispatch with the given
// interceptors, applied outermost-first (the first interceptor sees the
// Envelope before any other, and runs last on the way back out).
func WithEnvelopeInterceptors(interceptors ...EnvelopeInterceptor) Option {
	return func(o *options) {
		o.envelopeInterceptors = append(o.envelopeInterceptors, interceptors...)
	}
}

// WithSendInterceptors wraps every outbound Envelope send (Replies,
// SubscriptionPublications, Requests) with the given interceptors.
func WithSendInterceptors(interceptors ...SendInterceptor) Option {
	return func(o *options) {
		o.sendInterceptors = append(o.sendInterceptors, interceptors...)
	}
}

// defaultOptions returns the Dispatcher's default configuration.
func defaultOptions() *options {
	return &options{
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:              NewSystemClock(),
		registrar:          NewInterfaceRegistrar(),
		workerCount:        runtime.GOMAXPROCS(0),
		queueDepth:         256,
		replySweepInterval: 100 * time.Millisecond,
	}
}
