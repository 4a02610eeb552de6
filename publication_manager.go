package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PublicationManager owns the scheduling of outgoing publications for every
// subscription the local process serves as a provider. It persists
// requests so a restart does not drop long-lived subscriptions, and
// activates Pending entries as their provider (re)registers. Mirrors the
// teacher's single state-owning loop (logic.go) generalized from one
// keepalive timer to one timer set per subscriptionEntry.
type PublicationManager struct {
	clock   Clock
	logger  *slog.Logger
	sender  Sender
	factory *MessageFactory
	store   SubscriptionStore
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]*subscriptionEntry
}

// NewPublicationManager creates a manager. store may be nil, in which case
// subscriptions are not persisted across restarts.
func NewPublicationManager(clk Clock, logger *slog.Logger, sender Sender, factory *MessageFactory, store SubscriptionStore, metrics *Metrics) *PublicationManager {
	if logger == nil {
		logger = discardLogger()
	}
	return &PublicationManager{
		clock:   clk,
		logger:  logger,
		sender:  sender,
		factory: factory,
		store:   store,
		metrics: metrics,
		entries: make(map[string]*subscriptionEntry),
	}
}

// LoadPersisted reads every persisted subscription request from the store
// and repopulates it as a Pending entry, to be activated as each provider
// registers. Call once at process start, before any addRequestCaller.
func (m *PublicationManager) LoadPersisted() error {
	if m.store == nil {
		return nil
	}
	records, err := m.store.LoadAll()
	if err != nil {
		return NewError(KindRuntime, "load persisted subscriptions", err)
	}

	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		entry := newSubscriptionEntry(rec.Request, rec.ProxyParticipant, rec.ProviderParticipant, now)
		if entry.expired(now) {
			continue
		}
		m.entries[rec.Request.SubscriptionID] = entry
	}
	m.setActiveGaugeLocked()
	return nil
}

// Add registers (or refreshes) the subscription described by req. If
// registry already has a RequestCaller for providerParticipant, the entry
// activates immediately; otherwise it is parked Pending until
// RestoreSubscriptions is called for that provider.
func (m *PublicationManager) Add(req SubscriptionRequest, proxyParticipant, providerParticipant ParticipantId, registry *RequestCallerRegistry) error {
	if err := req.Qos.Validate(); err != nil {
		return NewError(KindRuntime, "invalid subscription qos", err)
	}

	now := m.clock.Now()

	m.mu.Lock()
	entry, exists := m.entries[req.SubscriptionID]
	if exists {
		entry.mu.Lock()
		entry.stopTimersLocked()
		entry.request = req
		entry.proxyParticipant = proxyParticipant
		entry.providerParticipant = providerParticipant
		entry.expiresAt = req.Qos.ExpiresAt(now)
		entry.state = EntryPending
		entry.mu.Unlock()
	} else {
		entry = newSubscriptionEntry(req, proxyParticipant, providerParticipant, now)
		m.entries[req.SubscriptionID] = entry
	}
	m.setActiveGaugeLocked()
	m.mu.Unlock()

	m.persist(entry)

	if caller, ok := registry.Lookup(providerParticipant); ok {
		m.activate(entry, caller)
	}
	return nil
}

// RestoreSubscriptions activates every Pending entry belonging to
// providerParticipant, using caller as the attribute source. Called by the
// Dispatcher from addRequestCaller.
func (m *PublicationManager) RestoreSubscriptions(providerParticipant ParticipantId, caller RequestCaller) {
	m.mu.Lock()
	var toActivate []*subscriptionEntry
	for _, entry := range m.entries {
		entry.mu.Lock()
		if entry.providerParticipant == providerParticipant && entry.state == EntryPending {
			toActivate = append(toActivate, entry)
		}
		entry.mu.Unlock()
	}
	m.mu.Unlock()

	for _, entry := range toActivate {
		m.activate(entry, caller)
	}
}

// Stop cancels timers for subscriptionID, transitions it to Stopped, and
// removes it from persistence. Idempotent.
func (m *PublicationManager) Stop(subscriptionID string) {
	m.mu.Lock()
	entry, ok := m.entries[subscriptionID]
	if ok {
		delete(m.entries, subscriptionID)
	}
	m.setActiveGaugeLocked()
	m.mu.Unlock()

	if !ok {
		return
	}
	entry.mu.Lock()
	entry.state = EntryStopped
	entry.stopTimersLocked()
	entry.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(subscriptionID); err != nil {
			m.logger.Warn("failed to delete persisted subscription", "subscriptionId", subscriptionID, "error", err)
		}
	}
}

// StopPublications bulk-stops every entry belonging to providerParticipant,
// per the decided discard-on-reattach policy: entries are removed from
// persistence, not merely parked, so a provider must re-add its
// subscriptions after re-registering.
func (m *PublicationManager) StopPublications(providerParticipant ParticipantId) {
	m.mu.Lock()
	var ids []string
	for id, entry := range m.entries {
		entry.mu.Lock()
		match := entry.providerParticipant == providerParticipant
		entry.mu.Unlock()
		if match {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// Len reports the number of tracked entries (any state).
func (m *PublicationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *PublicationManager) setActiveGaugeLocked() {
	m.metrics.setActiveEntries(len(m.entries))
}

func (m *PublicationManager) persist(entry *subscriptionEntry) {
	if m.store == nil {
		return
	}
	entry.mu.Lock()
	rec := PersistedSubscription{
		Request:             entry.request,
		ProxyParticipant:    entry.proxyParticipant,
		ProviderParticipant: entry.providerParticipant,
	}
	entry.mu.Unlock()

	if err := m.store.Save(rec); err != nil {
		m.logger.Warn("failed to persist subscription", "subscriptionId", rec.Request.SubscriptionID, "error", err)
	}
}

// activate transitions entry from Pending to Active and arms its timers
// according to its QoS kind.
func (m *PublicationManager) activate(entry *subscriptionEntry, caller RequestCaller) {
	now := m.clock.Now()

	entry.mu.Lock()
	if entry.state != EntryPending || entry.expired(now) {
		entry.mu.Unlock()
		return
	}
	entry.state = EntryActive
	entry.mu.Unlock()

	m.armExpiry(entry)
	m.armAlert(entry)

	switch entry.request.Qos.Kind {
	case QosPeriodic:
		m.armPeriod(entry, caller, 0)
	case QosOnChange:
		m.armChangeNotifications(entry, caller)
	case QosOnChangeWithKeepAlive:
		m.armChangeNotifications(entry, caller)
		m.armKeepAlive(entry, caller)
	}

	m.logger.Debug("subscription entry activated", "subscriptionId", entry.request.SubscriptionID, "qos", entry.request.Qos.Kind.String())
}

func (m *PublicationManager) armExpiry(entry *subscriptionEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.expiresAt.IsZero() {
		return
	}
	delay := entry.expiresAt.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	entry.expiryTimer = m.clock.AfterFunc(delay, func() { m.onExpiry(entry) })
}

func (m *PublicationManager) onExpiry(entry *subscriptionEntry) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}
	entry.state = EntryExpired
	entry.stopTimersLocked()
	id := entry.request.SubscriptionID
	entry.mu.Unlock()

	m.mu.Lock()
	delete(m.entries, id)
	m.setActiveGaugeLocked()
	m.mu.Unlock()

	if m.store != nil {
		_ = m.store.Delete(id)
	}
	m.logger.Debug("subscription entry expired", "subscriptionId", id)
}

func (m *PublicationManager) armAlert(entry *subscriptionEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.request.Qos.AlertingEnabled() {
		return
	}
	interval := time.Duration(entry.request.Qos.AlertAfterIntervalMs) * time.Millisecond
	id := entry.request.SubscriptionID
	entry.alertTimer = m.clock.AfterFunc(interval, func() { m.onAlert(entry, id) })
}

func (m *PublicationManager) onAlert(entry *subscriptionEntry, subscriptionID string) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}
	interval := time.Duration(entry.request.Qos.AlertAfterIntervalMs) * time.Millisecond
	entry.alertTimer = m.clock.AfterFunc(interval, func() { m.onAlert(entry, subscriptionID) })
	entry.mu.Unlock()

	m.metrics.publicationMissed()
	m.logger.Warn("publication missed for subscription entry", "subscriptionId", subscriptionID)
	m.sendPublication(entry, SubscriptionPublication{
		SubscriptionID: subscriptionID,
		Error:          NewError(KindPublicationMissed, "alertAfterIntervalMs elapsed with no publication", nil),
	})
}

// armPeriod arms the Periodic cadence timer. afterMs overrides the next
// delay (used for the first fire = now+0 per spec §4.2); 0 means fire
// immediately.
func (m *PublicationManager) armPeriod(entry *subscriptionEntry, caller RequestCaller, afterMs uint64) {
	entry.mu.Lock()
	id := entry.request.SubscriptionID
	delay := time.Duration(afterMs) * time.Millisecond
	entry.periodTimer = m.clock.AfterFunc(delay, func() { m.onPeriodTick(entry, caller, id) })
	entry.mu.Unlock()
}

func (m *PublicationManager) onPeriodTick(entry *subscriptionEntry, caller RequestCaller, subscriptionID string) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}
	periodMs := entry.request.Qos.PeriodMs
	entry.mu.Unlock()

	// The attribute getter is queried off the timer goroutine so a slow or
	// blocking provider never delays rescheduling of this or other entries.
	go func() {
		var pub SubscriptionPublication
		attrCaller, ok := caller.(AttributeCaller)
		if !ok {
			pub = SubscriptionPublication{SubscriptionID: subscriptionID, Error: NewError(KindProviderRuntime, "provider does not support attribute access", nil)}
		} else {
			value, err := attrCaller.GetAttribute(entry.request.SubscribeToName)
			if err != nil {
				pub = SubscriptionPublication{SubscriptionID: subscriptionID, Error: err}
			} else {
				pub = SubscriptionPublication{SubscriptionID: subscriptionID, Response: value}
			}
		}
		m.sendPublication(entry, pub)
	}()

	entry.mu.Lock()
	if entry.state == EntryActive {
		entry.periodTimer = m.clock.AfterFunc(time.Duration(periodMs)*time.Millisecond, func() {
			m.onPeriodTick(entry, caller, subscriptionID)
		})
	}
	entry.mu.Unlock()
}

// armChangeNotifications subscribes to the provider's change notifications
// (OnChange / OnChangeWithKeepAlive), debouncing by minIntervalMs.
func (m *PublicationManager) armChangeNotifications(entry *subscriptionEntry, caller RequestCaller) {
	notifier, ok := caller.(ChangeNotifier)
	if !ok {
		m.logger.Warn("provider does not support change notifications", "subscriptionId", entry.request.SubscriptionID)
		return
	}

	subscriptionID := entry.request.SubscriptionID
	cancel := notifier.OnChange(entry.request.SubscribeToName, func(value []Variant, err error) {
		m.onAttributeChanged(entry, subscriptionID, value, err)
	})

	entry.mu.Lock()
	entry.cancelChange = cancel
	entry.mu.Unlock()
}

func (m *PublicationManager) onAttributeChanged(entry *subscriptionEntry, subscriptionID string, value []Variant, attrErr error) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}

	minInterval := time.Duration(entry.request.Qos.MinIntervalMs) * time.Millisecond
	elapsed := m.clock.Now().Sub(entry.lastPublicationAt)

	entry.pendingValue = value
	entry.hasPending = true
	pendingErr := attrErr

	if entry.lastPublicationAt.IsZero() || elapsed >= minInterval {
		entry.hasPending = false
		entry.mu.Unlock()
		m.sendPublication(entry, SubscriptionPublication{SubscriptionID: subscriptionID, Response: value, Error: pendingErr})
		return
	}

	if entry.debounceTimer != nil {
		entry.mu.Unlock()
		return
	}
	remaining := minInterval - elapsed
	entry.debounceTimer = m.clock.AfterFunc(remaining, func() { m.onDebounceFire(entry, subscriptionID) })
	entry.mu.Unlock()
}

func (m *PublicationManager) onDebounceFire(entry *subscriptionEntry, subscriptionID string) {
	entry.mu.Lock()
	entry.debounceTimer = nil
	if entry.state != EntryActive || !entry.hasPending {
		entry.mu.Unlock()
		return
	}
	value := entry.pendingValue
	entry.hasPending = false
	entry.mu.Unlock()

	m.sendPublication(entry, SubscriptionPublication{SubscriptionID: subscriptionID, Response: value})
}

// armKeepAlive forces a publication if maxIntervalMs elapses with none,
// for OnChangeWithKeepAlive subscriptions.
func (m *PublicationManager) armKeepAlive(entry *subscriptionEntry, caller RequestCaller) {
	entry.mu.Lock()
	subscriptionID := entry.request.SubscriptionID
	maxInterval := time.Duration(entry.request.Qos.MaxIntervalMs) * time.Millisecond
	entry.keepAliveTimer = m.clock.AfterFunc(maxInterval, func() { m.onKeepAliveFire(entry, caller, subscriptionID) })
	entry.mu.Unlock()
}

func (m *PublicationManager) onKeepAliveFire(entry *subscriptionEntry, caller RequestCaller, subscriptionID string) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}
	maxInterval := time.Duration(entry.request.Qos.MaxIntervalMs) * time.Millisecond
	if since := m.clock.Now().Sub(entry.lastPublicationAt); !entry.lastPublicationAt.IsZero() && since < maxInterval {
		entry.keepAliveTimer = m.clock.AfterFunc(maxInterval-since, func() { m.onKeepAliveFire(entry, caller, subscriptionID) })
		entry.mu.Unlock()
		return
	}
	entry.keepAliveTimer = m.clock.AfterFunc(maxInterval, func() { m.onKeepAliveFire(entry, caller, subscriptionID) })
	entry.mu.Unlock()

	attrCaller, ok := caller.(AttributeCaller)
	if !ok {
		return
	}
	value, err := attrCaller.GetAttribute(entry.request.SubscribeToName)
	if err != nil {
		m.sendPublication(entry, SubscriptionPublication{SubscriptionID: subscriptionID, Error: err})
		return
	}
	m.sendPublication(entry, SubscriptionPublication{SubscriptionID: subscriptionID, Response: value})
}

// sendPublication builds and transmits the envelope for pub, then resets
// the entry's alert timer and lastPublicationAt. The PublicationManager keeps
// no queue of its own: each publication is handed straight to the Sender.
func (m *PublicationManager) sendPublication(entry *subscriptionEntry, pub SubscriptionPublication) {
	entry.mu.Lock()
	if entry.state != EntryActive {
		entry.mu.Unlock()
		return
	}
	entry.lastPublicationAt = m.clock.Now()
	recipient := entry.proxyParticipant
	sender := entry.providerParticipant
	qos := MessagingQos{TTLMs: 60000}
	if entry.alertTimer != nil {
		entry.alertTimer.Stop()
	}
	alertInterval := time.Duration(entry.request.Qos.AlertAfterIntervalMs) * time.Millisecond
	alertEnabled := entry.request.Qos.AlertingEnabled()
	subscriptionID := entry.request.SubscriptionID
	if alertEnabled {
		entry.alertTimer = m.clock.AfterFunc(alertInterval, func() { m.onAlert(entry, subscriptionID) })
	}
	entry.mu.Unlock()

	payload, err := encodeSubscriptionPublication(pub)
	if err != nil {
		m.logger.Error("failed to encode subscription publication", "subscriptionId", pub.SubscriptionID, "error", err)
		return
	}

	env := m.factory.Envelope(KindSubscriptionPublication, sender, recipient, qos, payload, nil)
	if err := m.sender.Send(context.Background(), env); err != nil {
		m.logger.Warn("failed to send subscription publication", "subscriptionId", pub.SubscriptionID, "error", err)
		return
	}
	m.metrics.publicationSent()
}
