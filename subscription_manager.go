package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriptionCallback is the consumer-side record of one registered
// subscription: the listener to deliver to, its QoS, and the alert timer
// that fires when no publication arrives within AlertAfterIntervalMs.
type subscriptionCallback struct {
	mu sync.Mutex

	subscriptionID string
	listener       Listener
	qos            SubscriptionQos
	state          CallbackState
	lastReceivedAt time.Time

	alertTimer Timer
}

// SubscriptionManager tracks subscriptions this process has issued as a
// consumer, routes incoming publications to the registered listener, and
// raises a PublicationMissed error when a subscription's alert interval
// elapses without a delivery. Mirrors the teacher's per-topic subscriptions
// map (client.go) generalized from a retained-message cache to a listener
// registry with its own alerting timers.
type SubscriptionManager struct {
	clock  Clock
	logger *slog.Logger

	mu        sync.RWMutex
	callbacks map[string]*subscriptionCallback
}

// NewSubscriptionManager creates an empty consumer-side manager.
func NewSubscriptionManager(clk Clock, logger *slog.Logger) *SubscriptionManager {
	if logger == nil {
		logger = discardLogger()
	}
	return &SubscriptionManager{
		clock:     clk,
		logger:    logger,
		callbacks: make(map[string]*subscriptionCallback),
	}
}

// RegisterSubscription records callback for subscriptionID (generating a
// fresh UUID if empty) and arms the alert timer if the QoS requests one.
// Returns the SubscriptionRequest the caller should transmit.
func (m *SubscriptionManager) RegisterSubscription(subscriptionID, attributeName string, listener Listener, qos SubscriptionQos) SubscriptionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	if subscriptionID == "" {
		subscriptionID = uuid.NewString()
	}

	cb := &subscriptionCallback{
		subscriptionID: subscriptionID,
		listener:       listener,
		qos:            qos,
		state:          CallbackRegistered,
		lastReceivedAt: m.clock.Now(),
	}
	m.callbacks[subscriptionID] = cb
	cb.state = CallbackLive
	m.armAlert(cb)

	m.logger.Debug("subscription registered", "subscriptionId", subscriptionID, "attribute", attributeName, "qos", qos.Kind.String())

	return SubscriptionRequest{SubscriptionID: subscriptionID, SubscribeToName: attributeName, Qos: qos}
}

// UnregisterSubscription removes the callback and cancels its alert timer.
// Idempotent.
func (m *SubscriptionManager) UnregisterSubscription(subscriptionID string) {
	m.mu.Lock()
	cb, ok := m.callbacks[subscriptionID]
	if ok {
		delete(m.callbacks, subscriptionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	cb.mu.Lock()
	cb.state = CallbackStopped
	if cb.alertTimer != nil {
		cb.alertTimer.Stop()
	}
	cb.mu.Unlock()
}

// Deliver routes a SubscriptionPublication to its registered listener. It
// reports false if the subscriptionId is unknown (logged and dropped per
// spec §4.3). Delivery to a single subscriptionId's listener is serialized
// by that callback's own mutex — not a manager-wide lock — so unrelated
// subscriptions never contend.
func (m *SubscriptionManager) Deliver(pub SubscriptionPublication) bool {
	m.mu.RLock()
	cb, ok := m.callbacks[pub.SubscriptionID]
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn("publication for unknown subscription", "subscriptionId", pub.SubscriptionID)
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CallbackLive {
		return false
	}

	cb.lastReceivedAt = m.clock.Now()
	m.armAlert(cb)

	if pub.Error != nil {
		cb.listener.OnError(pub.Error)
	} else {
		cb.listener.OnReceive(pub.Response)
	}
	return true
}

// armAlert (re)schedules the alert timer for cb. Caller must hold cb.mu, or
// cb be freshly constructed and not yet published.
func (m *SubscriptionManager) armAlert(cb *subscriptionCallback) {
	if !cb.qos.AlertingEnabled() {
		return
	}
	if cb.alertTimer != nil {
		cb.alertTimer.Stop()
	}
	subscriptionID := cb.subscriptionID
	interval := time.Duration(cb.qos.AlertAfterIntervalMs) * time.Millisecond
	cb.alertTimer = m.clock.AfterFunc(interval, func() {
		m.onAlert(subscriptionID)
	})
}

func (m *SubscriptionManager) onAlert(subscriptionID string) {
	m.mu.RLock()
	cb, ok := m.callbacks[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	cb.mu.Lock()
	if cb.state != CallbackLive {
		cb.mu.Unlock()
		return
	}
	listener := cb.listener
	cb.mu.Unlock()

	m.logger.Warn("publication missed", "subscriptionId", subscriptionID)
	listener.OnError(NewError(KindPublicationMissed, "no publication received within alertAfterIntervalMs", nil))

	cb.mu.Lock()
	if cb.state == CallbackLive {
		m.armAlert(cb)
	}
	cb.mu.Unlock()
}

// Len reports the number of currently tracked subscriptions.
func (m *SubscriptionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.callbacks)
}
