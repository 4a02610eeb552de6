package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// MessagingStub is the collaborator contract a transport implements to
// actually move an Envelope to a remote participant. Transmit runs in the
// caller's goroutine and returns the send's error to its caller; the
// Dispatcher's reply path and the PublicationManager log such errors rather
// than propagating them.
type MessagingStub interface {
	Transmit(ctx context.Context, env Envelope) error
}

// AddressKind identifies which Address variant is in use.
type AddressKind uint8

const (
	AddressInProcess AddressKind = iota
	AddressChannel
	AddressWebSocket
	AddressWebSocketClient
)

// Address identifies where a participant can be reached. Exactly the fields
// relevant to Kind are meaningful.
type Address struct {
	Kind AddressKind

	// AddressChannel
	URL string

	// AddressWebSocket
	Protocol string
	Host     string
	Port     int
	Path     string

	// AddressWebSocketClient
	ClientID string
}

func InProcessAddress() Address { return Address{Kind: AddressInProcess} }

func ChannelAddress(url string) Address { return Address{Kind: AddressChannel, URL: url} }

func WebSocketAddress(protocol, host string, port int, path string) Address {
	return Address{Kind: AddressWebSocket, Protocol: protocol, Host: host, Port: port, Path: path}
}

func WebSocketClientAddress(id string) Address {
	return Address{Kind: AddressWebSocketClient, ClientID: id}
}

// StubFactory produces a MessagingStub for addresses it recognizes.
type StubFactory interface {
	CanCreate(addr Address) bool
	Create(addr Address) (MessagingStub, error)
}

// MessageRouter forwards outbound Envelopes to the transport stub bound to
// their recipient, keyed by a routing table of ParticipantId → Address.
// It does not retry or queue: Send returns a failed transmit's error to its
// caller.
type MessageRouter struct {
	mu        sync.RWMutex
	routes    map[ParticipantId]Address
	stubs     map[AddressKind]map[string]MessagingStub
	factories []StubFactory
}

// NewMessageRouter creates an empty router backed by the given stub factories.
func NewMessageRouter(factories ...StubFactory) *MessageRouter {
	return &MessageRouter{
		routes:    make(map[ParticipantId]Address),
		stubs:     make(map[AddressKind]map[string]MessagingStub),
		factories: factories,
	}
}

// AddRoute associates a participant with the address it can be reached at.
func (r *MessageRouter) AddRoute(participant ParticipantId, addr Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[participant] = addr
}

// RemoveRoute drops a participant's route.
func (r *MessageRouter) RemoveRoute(participant ParticipantId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, participant)
}

func addressKey(addr Address) string {
	return fmt.Sprintf("%d|%s|%s|%s|%d|%s|%s", addr.Kind, addr.URL, addr.Protocol, addr.Host, addr.Port, addr.Path, addr.ClientID)
}

// Send routes env to the stub bound to env.Recipient, creating and caching
// the stub from a registered factory on first use.
func (r *MessageRouter) Send(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	addr, ok := r.routes[env.Recipient]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("messageRouter: no route for recipient %q", env.Recipient)
	}

	stub, err := r.stubFor(addr)
	if err != nil {
		return err
	}
	return stub.Transmit(ctx, env)
}

func (r *MessageRouter) stubFor(addr Address) (MessagingStub, error) {
	key := addressKey(addr)

	r.mu.RLock()
	byKey, ok := r.stubs[addr.Kind]
	if ok {
		if stub, ok := byKey[key]; ok {
			r.mu.RUnlock()
			return stub, nil
		}
	}
	r.mu.RUnlock()

	for _, f := range r.factories {
		if !f.CanCreate(addr) {
			continue
		}
		stub, err := f.Create(addr)
		if err != nil {
			return nil, fmt.Errorf("messageRouter: create stub: %w", err)
		}

		r.mu.Lock()
		if r.stubs[addr.Kind] == nil {
			r.stubs[addr.Kind] = make(map[string]MessagingStub)
		}
		r.stubs[addr.Kind][key] = stub
		r.mu.Unlock()

		return stub, nil
	}
	return nil, fmt.Errorf("messageRouter: no factory can create stub for address kind %d", addr.Kind)
}

// Sender is the narrow send-capability RequestCallers and the
// PublicationManager hold instead of a reference to the full Dispatcher,
// breaking the cyclic-ownership problem noted in the design notes.
type Sender interface {
	Send(ctx context.Context, env Envelope) error
}

// routerSender adapts a *MessageRouter to the Sender interface.
type routerSender struct {
	router *MessageRouter
}

func (s routerSender) Send(ctx context.Context, env Envelope) error {
	return s.router.Send(ctx, env)
}

// Arbitrator selects one provider participant for a domain/interface pair.
// It is an external oracle collaborator: this module defines only its
// contract and a trivial fixed-participant implementation for tests; QoS-
// or keyword-ranked arbitration logic is out of scope.
type Arbitrator interface {
	Arbitrate(ctx context.Context, domain, interfaceName string) (ParticipantId, error)
}

// FixedParticipantArbitrator always resolves to the same pre-selected
// participant, regardless of domain or interface. Useful for tests and for
// callers that already know which provider they want.
type FixedParticipantArbitrator struct {
	Participant ParticipantId
}

func (a FixedParticipantArbitrator) Arbitrate(ctx context.Context, domain, interfaceName string) (ParticipantId, error) {
	if a.Participant == "" {
		return "", NewError(KindDiscovery, "fixed participant arbitrator has no participant configured", nil)
	}
	return a.Participant, nil
}
