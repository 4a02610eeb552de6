// Package dispatch implements the demultiplexing and subscription/publication
// core of a location-transparent RPC and attribute publish/subscribe
// middleware.
//
// It turns transport-agnostic Envelopes into method invocations on
// registered providers, or delivery to registered listeners, and conversely
// produces periodic or event-driven publications that satisfy active
// subscriptions under quality-of-service constraints.
//
// # Components
//
//   - Dispatcher demultiplexes incoming Envelopes by Kind and serializes the
//     state changes this causes.
//   - RequestCallerRegistry maps a provider's ParticipantId to the adapter
//     that serves its requests and attribute reads.
//   - ReplyCallerDirectory correlates asynchronous Replies to the caller
//     waiting on them, with a TTL sweep for abandoned requests.
//   - SubscriptionManager tracks the subscriptions this process has issued
//     as a consumer and routes incoming publications to listeners.
//   - PublicationManager owns the subscriptions this process serves as a
//     provider: it schedules outgoing publications per their QoS and
//     persists them across restarts.
//   - MessageFactory builds Envelopes; transport delivery is left to a
//     MessagingStub collaborator keyed by destination Address.
//
// # Quick start
//
//	store, _ := dispatch.NewBoltSubscriptionStore("/var/lib/myapp")
//	d := dispatch.NewDispatcher(
//	    dispatch.WithSender(sender),
//	    dispatch.WithStore(store),
//	    dispatch.WithLogger(logger),
//	    dispatch.WithWorkerCount(4),
//	)
//	defer d.Close()
//
//	d.AddRequestCaller(providerID, myRequestCaller)
//	d.Receive(envelope)
package dispatch
