package dispatch

import "sync"

// RequestCaller is implemented by a provider-side object capable of
// invoking its own operations by name. Dispatcher.receive looks one up by
// recipient ParticipantId before handing off a Request.
type RequestCaller interface {
	// Invoke executes methodName with the given positional params and
	// returns the response values, or an error (a *DispatchError with
	// KindMethodInvocation or KindProviderRuntime for domain failures).
	Invoke(methodName string, params []Variant) ([]Variant, error)
}

// RequestCallerRegistry tracks the live mapping from ParticipantId to
// RequestCaller, guarded the way the teacher guards its subscriptions map
// (client.go's sessionLock-protected map) rather than with a single global
// lock shared by unrelated state.
type RequestCallerRegistry struct {
	mu      sync.RWMutex
	callers map[ParticipantId]RequestCaller
}

// NewRequestCallerRegistry returns an empty registry.
func NewRequestCallerRegistry() *RequestCallerRegistry {
	return &RequestCallerRegistry{callers: make(map[ParticipantId]RequestCaller)}
}

// Add registers caller under id, replacing any previous registration.
func (r *RequestCallerRegistry) Add(id ParticipantId, caller RequestCaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[id] = caller
}

// Remove unregisters id. It is a no-op if id was not registered.
func (r *RequestCallerRegistry) Remove(id ParticipantId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.callers, id)
}

// Lookup returns the RequestCaller registered under id, if any.
func (r *RequestCallerRegistry) Lookup(id ParticipantId) (RequestCaller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callers[id]
	return c, ok
}

// Len reports the number of currently registered callers.
func (r *RequestCallerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callers)
}
