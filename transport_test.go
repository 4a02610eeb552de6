package dispatch

import (
	"context"
	"testing"
)

// recordingReceiver is a receiver fake that records delivered envelopes,
// standing in for a Dispatcher in transport-level tests.
type recordingReceiver struct {
	received []Envelope
}

func (r *recordingReceiver) Receive(env Envelope) error {
	r.received = append(r.received, env)
	return nil
}

func TestMessageRouterRoutesToInProcessStub(t *testing.T) {
	target := &recordingReceiver{}
	router := NewMessageRouter(InProcessStubFactory{Target: target})
	router.AddRoute("provider-1", InProcessAddress())

	env := Envelope{Kind: KindRequest, Sender: "consumer-1", Recipient: "provider-1"}
	if err := router.Send(context.Background(), env); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if len(target.received) != 1 || target.received[0].Recipient != "provider-1" {
		t.Fatalf("target.received = %+v", target.received)
	}
}

func TestMessageRouterReusesCachedStub(t *testing.T) {
	target := &recordingReceiver{}
	router := NewMessageRouter(InProcessStubFactory{Target: target})
	router.AddRoute("provider-1", InProcessAddress())

	for i := 0; i < 3; i++ {
		if err := router.Send(context.Background(), Envelope{Recipient: "provider-1"}); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}
	if len(target.received) != 3 {
		t.Fatalf("len(target.received) = %d, want 3", len(target.received))
	}
	if n := len(router.stubs[AddressInProcess]); n != 1 {
		t.Fatalf("cached in-process stubs = %d, want 1", n)
	}
}

func TestMessageRouterNoRouteErrors(t *testing.T) {
	router := NewMessageRouter()
	if err := router.Send(context.Background(), Envelope{Recipient: "nobody"}); err == nil {
		t.Fatalf("expected an error for an unrouted recipient")
	}
}

func TestMessageRouterNoFactoryErrors(t *testing.T) {
	router := NewMessageRouter()
	router.AddRoute("provider-1", WebSocketAddress("ws", "localhost", 4242, "/joynr"))

	if err := router.Send(context.Background(), Envelope{Recipient: "provider-1"}); err == nil {
		t.Fatalf("expected an error when no factory can create a stub for the address")
	}
}

func TestMessageRouterRemoveRoute(t *testing.T) {
	target := &recordingReceiver{}
	router := NewMessageRouter(InProcessStubFactory{Target: target})
	router.AddRoute("provider-1", InProcessAddress())
	router.RemoveRoute("provider-1")

	if err := router.Send(context.Background(), Envelope{Recipient: "provider-1"}); err == nil {
		t.Fatalf("expected an error after RemoveRoute")
	}
}

func TestInProcessStubFactoryNoTargetErrors(t *testing.T) {
	factory := InProcessStubFactory{}
	if _, err := factory.Create(InProcessAddress()); err == nil {
		t.Fatalf("expected an error when no target is configured")
	}
}

func TestFixedParticipantArbitrator(t *testing.T) {
	arb := FixedParticipantArbitrator{Participant: "provider-1"}
	got, err := arb.Arbitrate(context.Background(), "domain", "com.example.Iface")
	if err != nil {
		t.Fatalf("Arbitrate() error: %v", err)
	}
	if got != "provider-1" {
		t.Fatalf("Arbitrate() = %q, want provider-1", got)
	}
}

func TestFixedParticipantArbitratorUnconfiguredErrors(t *testing.T) {
	arb := FixedParticipantArbitrator{}
	if _, err := arb.Arbitrate(context.Background(), "domain", "com.example.Iface"); err == nil {
		t.Fatalf("expected an error for an unconfigured arbitrator")
	}
}

func TestWebSocketStubFactoryCanCreate(t *testing.T) {
	f := WebSocketStubFactory{}
	if !f.CanCreate(WebSocketAddress("ws", "localhost", 4242, "/joynr")) {
		t.Fatalf("CanCreate() = false for an AddressWebSocket address")
	}
	if f.CanCreate(InProcessAddress()) {
		t.Fatalf("CanCreate() = true for an AddressInProcess address")
	}
}

func TestWebSocketStubFactoryCreateBuildsURL(t *testing.T) {
	f := WebSocketStubFactory{}
	stub, err := f.Create(WebSocketAddress("wss", "example.com", 443, "/joynr"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	ws, ok := stub.(*WebSocketStub)
	if !ok {
		t.Fatalf("Create() returned %T, want *WebSocketStub", stub)
	}
	if ws.url != "wss://example.com:443/joynr" {
		t.Fatalf("url = %q, want wss://example.com:443/joynr", ws.url)
	}
}

func TestWebSocketStubFactoryCreateDefaultsScheme(t *testing.T) {
	f := WebSocketStubFactory{}
	stub, err := f.Create(Address{Kind: AddressWebSocket, Host: "localhost", Port: 4242, Path: "/joynr"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	ws := stub.(*WebSocketStub)
	if ws.url != "ws://localhost:4242/joynr" {
		t.Fatalf("url = %q, want ws://localhost:4242/joynr", ws.url)
	}
}

func TestWebSocketClientStubFactoryRegisterUnregister(t *testing.T) {
	f := NewWebSocketClientStubFactory()
	addr := WebSocketClientAddress("client-1")

	if !f.CanCreate(addr) {
		t.Fatalf("CanCreate() = false for an AddressWebSocketClient address")
	}
	if _, err := f.Create(addr); err == nil {
		t.Fatalf("expected an error before the client is registered")
	}

	f.Register("client-1", nil)
	if _, err := f.Create(addr); err != nil {
		t.Fatalf("Create() error after Register: %v", err)
	}

	f.Unregister("client-1")
	if _, err := f.Create(addr); err == nil {
		t.Fatalf("expected an error after Unregister")
	}
}
