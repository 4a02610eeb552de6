package dispatch

import "context"

// EnvelopeHandler processes one decoded-or-not-yet-decoded inbound Envelope.
// dispatch itself satisfies this signature.
type EnvelopeHandler func(Envelope)

// EnvelopeInterceptor wraps an EnvelopeHandler. It allows cross-cutting
// concerns — logging, tracing, auditing — to be applied to every inbound
// Envelope before Dispatcher routes it by Kind.
//
// Example (tracing):
//
//	func TracingInterceptor(next dispatch.EnvelopeHandler) dispatch.EnvelopeHandler {
//	    return func(env dispatch.Envelope) {
//	        span := startSpan(env.MessageID)
//	        defer span.End()
//	        next(env)
//	    }
//	}
type EnvelopeInterceptor func(EnvelopeHandler) EnvelopeHandler

// SendFunc matches the signature of Sender.Send.
type SendFunc func(ctx context.Context, env Envelope) error

// SendInterceptor wraps a SendFunc. It allows cross-cutting concerns to be
// applied to every outbound Envelope (Replies, SubscriptionPublications,
// Requests) regardless of which collaborator is sending it.
type SendInterceptor func(SendFunc) SendFunc

// applyEnvelopeInterceptors wraps handler with interceptors, outermost first.
func applyEnvelopeInterceptors(handler EnvelopeHandler, interceptors []EnvelopeInterceptor) EnvelopeHandler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		handler = interceptors[i](handler)
	}
	return handler
}

// applySendInterceptors wraps send with interceptors, outermost first.
func applySendInterceptors(send SendFunc, interceptors []SendInterceptor) SendFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		send = interceptors[i](send)
	}
	return send
}

// interceptedSender adapts a SendFunc back into a Sender so it can replace
// the Dispatcher's configured Sender transparently.
type interceptedSender struct {
	send SendFunc
}

func (s interceptedSender) Send(ctx context.Context, env Envelope) error {
	return s.send(ctx, env)
}
