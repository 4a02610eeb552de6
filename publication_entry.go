package dispatch

import (
	"sync"
	"time"
)

// AttributeCaller is implemented by a RequestCaller that also sources
// attribute values for publication, queried by the PublicationManager's
// Periodic and OnChangeWithKeepAlive keep-alive scheduling.
type AttributeCaller interface {
	GetAttribute(attributeName string) ([]Variant, error)
}

// ChangeNotifier is implemented by a RequestCaller whose attributes emit
// change notifications, consumed by OnChange and OnChangeWithKeepAlive
// scheduling. cb is invoked on every change; the returned cancel func stops
// notifications.
type ChangeNotifier interface {
	OnChange(attributeName string, cb func([]Variant, error)) (cancel func())
}

// subscriptionEntry is the provider-side record of one subscription this
// process must satisfy: the original request, its owning participants, and
// the timers driving its publication cadence. The PublicationManager
// exclusively owns entries and their timers.
type subscriptionEntry struct {
	mu sync.Mutex

	request             SubscriptionRequest
	proxyParticipant    ParticipantId
	providerParticipant ParticipantId

	createdAt          time.Time
	expiresAt          time.Time
	lastPublicationAt  time.Time
	lastPublishedValue string // cheap equality fingerprint, not a cryptographic hash

	state EntryState

	periodTimer    Timer
	debounceTimer  Timer
	keepAliveTimer Timer
	alertTimer     Timer
	expiryTimer    Timer

	cancelChange func()
	pendingValue []Variant
	hasPending   bool
}

func newSubscriptionEntry(req SubscriptionRequest, proxy, provider ParticipantId, now time.Time) *subscriptionEntry {
	return &subscriptionEntry{
		request:             req,
		proxyParticipant:    proxy,
		providerParticipant: provider,
		createdAt:           now,
		expiresAt:           req.Qos.ExpiresAt(now),
		state:               EntryPending,
	}
}

func (e *subscriptionEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// stopTimersLocked cancels every timer on the entry. Caller must hold e.mu.
func (e *subscriptionEntry) stopTimersLocked() {
	for _, t := range []Timer{e.periodTimer, e.debounceTimer, e.keepAliveTimer, e.alertTimer, e.expiryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	e.periodTimer = nil
	e.debounceTimer = nil
	e.keepAliveTimer = nil
	e.alertTimer = nil
	e.expiryTimer = nil
	if e.cancelChange != nil {
		e.cancelChange()
		e.cancelChange = nil
	}
}
