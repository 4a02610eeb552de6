package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memorySubscriptionStore struct {
	mu      sync.Mutex
	records map[string]PersistedSubscription
}

func newMemorySubscriptionStore() *memorySubscriptionStore {
	return &memorySubscriptionStore{records: make(map[string]PersistedSubscription)}
}

func (s *memorySubscriptionStore) Save(rec PersistedSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Request.SubscriptionID] = rec
	return nil
}

func (s *memorySubscriptionStore) Delete(subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, subscriptionID)
	return nil
}

func (s *memorySubscriptionStore) LoadAll() ([]PersistedSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PersistedSubscription, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memorySubscriptionStore) Close() error { return nil }

type capturingSender struct {
	mu   sync.Mutex
	sent []Envelope
	ch   chan Envelope
}

func newCapturingSender() *capturingSender {
	return &capturingSender{ch: make(chan Envelope, 64)}
}

func (s *capturingSender) Send(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	s.sent = append(s.sent, env)
	s.mu.Unlock()
	s.ch <- env
	return nil
}

// attributeProvider is a RequestCaller that also answers attribute reads
// and change notifications, for exercising PublicationManager's Periodic
// and OnChange scheduling.
type attributeProvider struct {
	mu       sync.Mutex
	value    []Variant
	onChange func(value []Variant, err error)
}

func (p *attributeProvider) Invoke(methodName string, params []Variant) ([]Variant, error) {
	return nil, NewError(KindMethodInvocation, "not implemented", nil)
}

func (p *attributeProvider) GetAttribute(attributeName string) ([]Variant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, nil
}

func (p *attributeProvider) OnChange(attributeName string, cb func([]Variant, error)) func() {
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onChange = nil
		p.mu.Unlock()
	}
}

func (p *attributeProvider) setValue(v []Variant) {
	p.mu.Lock()
	cb := p.onChange
	p.mu.Unlock()
	if cb != nil {
		cb(v, nil)
	}
}

func waitEnvelope(t *testing.T, ch chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a publication")
		return Envelope{}
	}
}

func newTestPublicationManager(clk Clock, sender Sender, store SubscriptionStore) *PublicationManager {
	return NewPublicationManager(clk, nil, sender, NewMessageFactory(clk), store, nil)
}

func TestPublicationManagerPeriodic(t *testing.T) {
	clk := newManualClock(time.Now())
	sender := newCapturingSender()
	pm := newTestPublicationManager(clk, sender, nil)
	registry := NewRequestCallerRegistry()

	provider := &attributeProvider{value: []Variant{IntValue(1)}}
	registry.Add("provider-1", provider)

	req := SubscriptionRequest{SubscriptionID: "sub-periodic", SubscribeToName: "counter", Qos: PeriodicQos(0, 100, 0)}
	if err := pm.Add(req, "proxy-1", "provider-1", registry); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	clk.Advance(0) // fires the immediate first tick armed with delay 0

	env := waitEnvelope(t, sender.ch)
	pub, err := decodeSubscriptionPublication(env.Payload)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if pub.SubscriptionID != "sub-periodic" {
		t.Fatalf("SubscriptionID = %q", pub.SubscriptionID)
	}

	// The first tick fires immediately (delay 0); advance the clock for a
	// second tick at periodMs.
	provider.value = []Variant{IntValue(2)}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		clk.Advance(20 * time.Millisecond)
		select {
		case env := <-sender.ch:
			pub, _ := decodeSubscriptionPublication(env.Payload)
			if pub.Response[0].Int64 == 2 {
				return
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatalf("timed out waiting for the second periodic tick")
}

func TestPublicationManagerOnChangeDebounces(t *testing.T) {
	clk := newManualClock(time.Now())
	sender := newCapturingSender()
	pm := newTestPublicationManager(clk, sender, nil)
	registry := NewRequestCallerRegistry()

	provider := &attributeProvider{}
	registry.Add("provider-2", provider)

	req := SubscriptionRequest{SubscriptionID: "sub-onchange", SubscribeToName: "x", Qos: OnChangeQos(0, 200)}
	if err := pm.Add(req, "proxy-2", "provider-2", registry); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	// First change: nothing published yet (lastPublicationAt is zero), so it
	// publishes immediately.
	provider.setValue([]Variant{IntValue(10)})
	env := waitEnvelope(t, sender.ch)
	pub, _ := decodeSubscriptionPublication(env.Payload)
	if pub.Response[0].Int64 != 10 {
		t.Fatalf("first publication = %+v, want 10", pub.Response)
	}

	// Two rapid changes within minIntervalMs coalesce to the latest value.
	provider.setValue([]Variant{IntValue(11)})
	provider.setValue([]Variant{IntValue(12)})

	select {
	case <-sender.ch:
		t.Fatalf("expected no immediate publication before minIntervalMs elapses")
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		clk.Advance(50 * time.Millisecond)
		select {
		case env := <-sender.ch:
			pub, _ := decodeSubscriptionPublication(env.Payload)
			if pub.Response[0].Int64 == 12 {
				return
			}
			t.Fatalf("debounced publication = %+v, want latest value 12", pub.Response)
		case <-time.After(10 * time.Millisecond):
		}
	}
	t.Fatalf("timed out waiting for the debounced publication")
}

func TestPublicationManagerStopRemovesEntry(t *testing.T) {
	clk := newManualClock(time.Now())
	sender := newCapturingSender()
	store := newMemorySubscriptionStore()
	pm := newTestPublicationManager(clk, sender, store)
	registry := NewRequestCallerRegistry()

	provider := &attributeProvider{value: []Variant{IntValue(1)}}
	registry.Add("provider-3", provider)

	req := SubscriptionRequest{SubscriptionID: "sub-stop", SubscribeToName: "x", Qos: PeriodicQos(0, 1000, 0)}
	if err := pm.Add(req, "proxy-3", "provider-3", registry); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	clk.Advance(0)
	waitEnvelope(t, sender.ch)

	if pm.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", pm.Len())
	}
	pm.Stop("sub-stop")
	if pm.Len() != 0 {
		t.Fatalf("Len() = %d after Stop, want 0", pm.Len())
	}

	records, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected the persisted record to be removed, got %+v", records)
	}
}

func TestPublicationManagerRestoreSubscriptionsFromPendingState(t *testing.T) {
	clk := newManualClock(time.Now())
	sender := newCapturingSender()
	pm := newTestPublicationManager(clk, sender, nil)
	registry := NewRequestCallerRegistry()

	// No provider registered yet: the entry should park Pending.
	req := SubscriptionRequest{SubscriptionID: "sub-pending", SubscribeToName: "x", Qos: PeriodicQos(0, 1000, 0)}
	if err := pm.Add(req, "proxy-4", "provider-4", registry); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	select {
	case <-sender.ch:
		t.Fatalf("expected no publication before the provider registers")
	case <-time.After(50 * time.Millisecond):
	}

	provider := &attributeProvider{value: []Variant{IntValue(5)}}
	registry.Add("provider-4", provider)
	pm.RestoreSubscriptions("provider-4", provider)
	clk.Advance(0)

	waitEnvelope(t, sender.ch)
}

func TestPublicationManagerStopPublicationsDiscardsOnReattach(t *testing.T) {
	clk := newManualClock(time.Now())
	sender := newCapturingSender()
	store := newMemorySubscriptionStore()
	pm := newTestPublicationManager(clk, sender, store)
	registry := NewRequestCallerRegistry()

	provider := &attributeProvider{value: []Variant{IntValue(1)}}
	registry.Add("provider-5", provider)

	req := SubscriptionRequest{SubscriptionID: "sub-reattach", SubscribeToName: "x", Qos: PeriodicQos(0, 1000, 0)}
	if err := pm.Add(req, "proxy-5", "provider-5", registry); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	clk.Advance(0)
	waitEnvelope(t, sender.ch)

	pm.StopPublications("provider-5")
	if pm.Len() != 0 {
		t.Fatalf("Len() = %d after StopPublications, want 0 (discard-on-reattach policy)", pm.Len())
	}

	registry.Add("provider-5", provider)
	pm.RestoreSubscriptions("provider-5", provider)
	clk.Advance(0)
	select {
	case <-sender.ch:
		t.Fatalf("expected the discarded subscription to stay gone after reattach")
	case <-time.After(50 * time.Millisecond):
	}
}
