package dispatch

import (
	"context"
	"testing"
	"time"
)

// echoCaller is a trivial RequestCaller used to exercise Dispatcher's
// request/reply round-trip.
type echoCaller struct{}

func (echoCaller) Invoke(methodName string, params []Variant) ([]Variant, error) {
	if methodName == "fail" {
		return nil, NewError(KindApplication, "intentional failure", nil)
	}
	return params, nil
}

// settableSender lets a test wire two Dispatchers to each other despite the
// circular construction order (each needs the other's Receive method as its
// send target, but neither exists until after NewDispatcher returns).
type settableSender struct {
	target receiver
}

func (s *settableSender) Send(ctx context.Context, env Envelope) error {
	return s.target.Receive(env)
}

func newTestDispatcherPair(t *testing.T) (consumer, provider *Dispatcher, clk *manualClock) {
	t.Helper()
	clk = newManualClock(time.Now())

	consumerSender := &settableSender{}
	providerSender := &settableSender{}

	consumer = NewDispatcher(WithClock(clk), WithSender(consumerSender))
	provider = NewDispatcher(WithClock(clk), WithSender(providerSender))

	consumerSender.target = provider
	providerSender.target = consumer

	t.Cleanup(func() {
		consumer.Close()
		provider.Close()
	})
	return consumer, provider, clk
}

func TestDispatcherRequestReplyRoundTrip(t *testing.T) {
	consumer, provider, _ := newTestDispatcherPair(t)
	provider.AddRequestCaller("provider-1", echoCaller{})

	reply := newRecordingReplyCaller()
	req := Request{RequestReplyID: "rr-1", MethodName: "ping", Params: []Variant{StringValue("hi")}}

	if err := consumer.SendRequest(context.Background(), "consumer-1", "provider-1", req, MessagingQos{TTLMs: 5000}, reply); err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}

	select {
	case <-reply.called:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the reply")
	}

	if reply.err != nil {
		t.Fatalf("unexpected error: %v", reply.err)
	}
	if len(reply.response) != 1 || reply.response[0].Str != "hi" {
		t.Fatalf("reply.response = %+v", reply.response)
	}
}

func TestDispatcherRequestToUnknownProviderErrors(t *testing.T) {
	consumer, _, _ := newTestDispatcherPair(t)

	reply := newRecordingReplyCaller()
	req := Request{RequestReplyID: "rr-2", MethodName: "ping"}
	if err := consumer.SendRequest(context.Background(), "consumer-1", "nobody", req, MessagingQos{TTLMs: 5000}, reply); err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}

	select {
	case <-reply.called:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the reply")
	}
	if reply.err == nil {
		t.Fatalf("expected an error for an unregistered recipient")
	}
}

func TestDispatcherInterfaceCallerRouting(t *testing.T) {
	consumer, provider, _ := newTestDispatcherPair(t)

	provider.Registrar().Register("com.example.Counter", map[string]MethodFunc{
		"increment": func(params []Variant) ([]Variant, error) {
			return []Variant{IntValue(params[0].Int64 + 1)}, nil
		},
	})
	provider.AddRequestCaller("provider-2", NewInterfaceCaller(provider.Interpreter(), "com.example.Counter"))

	reply := newRecordingReplyCaller()
	req := Request{RequestReplyID: "rr-3", MethodName: "increment", Params: []Variant{IntValue(41)}}
	if err := consumer.SendRequest(context.Background(), "consumer-1", "provider-2", req, MessagingQos{TTLMs: 5000}, reply); err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}

	select {
	case <-reply.called:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the reply")
	}
	if reply.err != nil {
		t.Fatalf("unexpected error: %v", reply.err)
	}
	if len(reply.response) != 1 || reply.response[0].Int64 != 42 {
		t.Fatalf("reply.response = %+v, want [42]", reply.response)
	}
}

func TestDispatcherInterfaceCallerUnknownMethod(t *testing.T) {
	consumer, provider, _ := newTestDispatcherPair(t)
	provider.Registrar().Register("com.example.Counter", map[string]MethodFunc{})
	provider.AddRequestCaller("provider-3", NewInterfaceCaller(provider.Interpreter(), "com.example.Counter"))

	reply := newRecordingReplyCaller()
	req := Request{RequestReplyID: "rr-4", MethodName: "missing"}
	if err := consumer.SendRequest(context.Background(), "consumer-1", "provider-3", req, MessagingQos{TTLMs: 5000}, reply); err != nil {
		t.Fatalf("SendRequest() error: %v", err)
	}

	select {
	case <-reply.called:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the reply")
	}
	if !IsKind(reply.err, KindMethodInvocation) {
		t.Fatalf("error kind = %v, want KindMethodInvocation", reply.err)
	}
}

func TestDispatcherSubscriptionEndToEnd(t *testing.T) {
	consumer, provider, clk := newTestDispatcherPair(t)

	providerCaller := &attributeProvider{value: []Variant{IntValue(7)}}
	provider.AddRequestCaller("provider-4", providerCaller)

	listener := newRecordingListener()
	subReq := consumer.Subscriptions().RegisterSubscription("sub-e2e", "value", listener, PeriodicQos(0, 100, 0))
	subReq.ProxyParticipant = "consumer-proxy"

	payload, err := encodeSubscriptionRequest(subReq)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	env := consumer.factory.Envelope(KindSubscriptionRequest, "consumer-proxy", "provider-4", MessagingQos{TTLMs: 60000}, payload, nil)
	if err := provider.Receive(env); err != nil {
		t.Fatalf("Receive() error: %v", err)
	}

	// provider.dispatch runs on a worker goroutine; wait until it has tracked
	// the SubscriptionRequest. The entry is tracked just before its first
	// (delay-0) tick is armed, so keep advancing the clock by 0 until that
	// tick has fired and the publication has arrived.
	deadline := time.Now().Add(2 * time.Second)
	for provider.Publications().Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	delivered := false
	deadline = time.Now().Add(5 * time.Second)
	for !delivered && time.Now().Before(deadline) {
		clk.Advance(0)
		select {
		case <-listener.ch:
			delivered = true
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !delivered {
		t.Fatalf("timed out waiting for the first publication")
	}
	if len(listener.values) != 1 || listener.values[0][0].Int64 != 7 {
		t.Fatalf("listener.values = %+v", listener.values)
	}
}

func TestDispatcherCloseRejectsFurtherReceives(t *testing.T) {
	consumer, _, _ := newTestDispatcherPair(t)
	consumer.Close()

	err := consumer.Receive(Envelope{Kind: KindRequest})
	if err != ErrShuttingDown {
		t.Fatalf("Receive() after Close() = %v, want ErrShuttingDown", err)
	}
}
