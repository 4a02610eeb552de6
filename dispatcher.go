package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher demultiplexes incoming Envelopes by Kind to the appropriate
// manager or registry, and serializes state changes to its collaborators.
// It generalizes the teacher's single logicLoop goroutine-plus-channel
// (logic.go) to a bounded worker pool, preserving per-connection order
// where the transport delivers serially while permitting parallelism
// across recipients — spec §5 requires only per-subscription ordering, not
// global ordering, so N workers (rather than one loop) are safe.
type Dispatcher struct {
	logger *slog.Logger
	clock  Clock

	registry    *RequestCallerRegistry
	replies     *ReplyCallerDirectory
	subs        *SubscriptionManager
	pubs        *PublicationManager
	interpreter *RequestInterpreter
	factory     *MessageFactory
	sender      Sender
	metrics     *Metrics

	queue chan Envelope
	wg    sync.WaitGroup

	dispatchChain EnvelopeHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDispatcher wires a Dispatcher from its collaborators. workerCount must
// be ≥ 1.
func NewDispatcher(opts ...Option) *Dispatcher {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	sender := o.sender
	if sender != nil && len(o.sendInterceptors) > 0 {
		sender = interceptedSender{send: applySendInterceptors(sender.Send, o.sendInterceptors)}
	}

	registry := NewRequestCallerRegistry()
	replies := NewReplyCallerDirectory(o.clock, o.replySweepInterval)
	subs := NewSubscriptionManager(o.clock, o.logger)
	factory := NewMessageFactory(o.clock)
	pubs := NewPublicationManager(o.clock, o.logger, sender, factory, o.store, o.metrics)
	interpreter := NewRequestInterpreter(o.registrar)

	d := &Dispatcher{
		logger:      o.logger,
		clock:       o.clock,
		registry:    registry,
		replies:     replies,
		subs:        subs,
		pubs:        pubs,
		interpreter: interpreter,
		factory:     factory,
		sender:      sender,
		metrics:     o.metrics,
		queue:       make(chan Envelope, o.queueDepth),
		closed:      make(chan struct{}),
	}
	d.dispatchChain = applyEnvelopeInterceptors(d.dispatch, o.envelopeInterceptors)

	if o.store != nil {
		if err := pubs.LoadPersisted(); err != nil {
			d.logger.Error("failed to load persisted subscriptions", "error", err)
		}
	}

	for i := 0; i < o.workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Receive enqueues env for demultiplexing. Non-blocking with respect to the
// transport: it never returns an error to the caller for a malformed or
// expired envelope (those are logged and dropped by the worker), only for
// a Dispatcher that has already been closed or whose queue is saturated.
func (d *Dispatcher) Receive(env Envelope) error {
	select {
	case <-d.closed:
		return ErrShuttingDown
	default:
	}

	select {
	case d.queue <- env:
		return nil
	case <-d.closed:
		return ErrShuttingDown
	default:
		return NewError(KindRuntime, "dispatch queue is full", nil)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case env, ok := <-d.queue:
			if !ok {
				return
			}
			d.dispatchChain(env)
		case <-d.closed:
			return
		}
	}
}

func (d *Dispatcher) dispatch(env Envelope) {
	d.metrics.received(env.Kind)

	if env.Expired(d.clock.Now()) {
		d.logger.Warn("dropping expired envelope", "kind", env.Kind.String(), "messageId", env.MessageID)
		d.metrics.dropped("expired")
		return
	}

	switch env.Kind {
	case KindRequest:
		d.handleRequest(env)
	case KindReply:
		d.handleReply(env)
	case KindSubscriptionRequest, KindBroadcastSubscriptionRequest:
		d.handleSubscriptionRequest(env)
	case KindSubscriptionStop:
		d.handleSubscriptionStop(env)
	case KindSubscriptionPublication:
		d.handleSubscriptionPublication(env)
	default:
		d.logger.Warn("dropping envelope of unrecognized kind", "kind", env.Kind.String())
		d.metrics.dropped("unrecognized_kind")
	}
}

func (d *Dispatcher) handleRequest(env Envelope) {
	req, err := decodeRequest(env.Payload)
	if err != nil {
		d.logger.Warn("malformed request envelope", "error", err)
		d.metrics.dropped("malformed")
		return
	}

	caller, ok := d.registry.Lookup(env.Recipient)
	if !ok {
		d.replyWith(env, Reply{RequestReplyID: req.RequestReplyID, Error: NewError(KindProviderRuntime, ErrNoProviderRegistered.Error(), ErrNoProviderRegistered)})
		return
	}

	response, err := caller.Invoke(req.MethodName, req.Params)
	if err != nil {
		d.replyWith(env, Reply{RequestReplyID: req.RequestReplyID, Error: err})
		return
	}
	d.replyWith(env, Reply{RequestReplyID: req.RequestReplyID, Response: response})
}

func (d *Dispatcher) replyWith(requestEnv Envelope, reply Reply) {
	payload, err := encodeReply(reply)
	if err != nil {
		d.logger.Error("failed to encode reply", "error", err)
		return
	}
	out := d.factory.Envelope(KindReply, requestEnv.Recipient, requestEnv.Sender, MessagingQos{TTLMs: 60000}, payload, nil)
	if err := d.sender.Send(context.Background(), out); err != nil {
		d.logger.Warn("failed to send reply", "error", err)
	}
}

func (d *Dispatcher) handleReply(env Envelope) {
	reply, err := decodeReply(env.Payload)
	if err != nil {
		d.logger.Warn("malformed reply envelope", "error", err)
		d.metrics.dropped("malformed")
		return
	}
	if !d.replies.Resolve(reply) {
		d.logger.Debug("reply for unknown or already-resolved request", "requestReplyId", reply.RequestReplyID)
	}
}

func (d *Dispatcher) handleSubscriptionRequest(env Envelope) {
	req, err := decodeSubscriptionRequest(env.Payload)
	if err != nil {
		d.logger.Warn("malformed subscription request envelope", "error", err)
		d.metrics.dropped("malformed")
		return
	}
	if req.ProxyParticipant == "" {
		req.ProxyParticipant = env.Sender
	}
	if err := d.pubs.Add(req, req.ProxyParticipant, env.Recipient, d.registry); err != nil {
		d.logger.Warn("failed to add subscription", "subscriptionId", req.SubscriptionID, "error", err)
	}
}

func (d *Dispatcher) handleSubscriptionStop(env Envelope) {
	stop, err := decodeSubscriptionStop(env.Payload)
	if err != nil {
		d.logger.Warn("malformed subscription stop envelope", "error", err)
		d.metrics.dropped("malformed")
		return
	}
	d.pubs.Stop(stop.SubscriptionID)
}

func (d *Dispatcher) handleSubscriptionPublication(env Envelope) {
	pub, err := decodeSubscriptionPublication(env.Payload)
	if err != nil {
		d.logger.Warn("malformed subscription publication envelope", "error", err)
		d.metrics.dropped("malformed")
		return
	}
	if !d.subs.Deliver(pub) {
		d.metrics.dropped("unknown_subscription")
	}
}

// AddRequestCaller registers caller as the provider for providerParticipant
// and activates any subscriptions parked Pending for it.
func (d *Dispatcher) AddRequestCaller(providerParticipant ParticipantId, caller RequestCaller) {
	d.registry.Add(providerParticipant, caller)
	d.pubs.RestoreSubscriptions(providerParticipant, caller)
}

// RemoveRequestCaller deregisters providerParticipant and stops (discarding,
// per the decided restore-on-reattach policy) all of its publications.
func (d *Dispatcher) RemoveRequestCaller(providerParticipant ParticipantId) {
	d.registry.Remove(providerParticipant)
	d.pubs.StopPublications(providerParticipant)
}

// SendRequest transmits req to recipient via the Dispatcher's sender,
// registering caller with the ReplyCallerDirectory to receive the eventual
// Reply (or a KindTimeOut error after ttl).
func (d *Dispatcher) SendRequest(ctx context.Context, sender, recipient ParticipantId, req Request, ttl MessagingQos, caller ReplyCaller) error {
	d.replies.Register(req.RequestReplyID, caller, time.Duration(ttl.TTLMs)*time.Millisecond)

	payload, err := encodeRequest(req)
	if err != nil {
		d.replies.Cancel(req.RequestReplyID)
		return NewError(KindRuntime, "encode request", err)
	}
	env := d.factory.Envelope(KindRequest, sender, recipient, ttl, payload, nil)
	if err := d.sender.Send(ctx, env); err != nil {
		d.replies.Cancel(req.RequestReplyID)
		return NewError(KindRuntime, "send request", err)
	}
	return nil
}

// Interpreter exposes the Dispatcher's interpreter so providers can register
// interface method tables via its InterfaceRegistrar.
func (d *Dispatcher) Interpreter() *RequestInterpreter { return d.interpreter }

// Registrar exposes the InterfaceRegistrar backing the Dispatcher's
// interpreter. A provider registers its method table here, then calls
// AddRequestCaller with NewInterfaceCaller(dispatcher.Interpreter(), name) to
// have Requests for that interface routed through the interpreter.
func (d *Dispatcher) Registrar() *InterfaceRegistrar { return d.interpreter.Registrar() }

// Subscriptions exposes the consumer-side SubscriptionManager.
func (d *Dispatcher) Subscriptions() *SubscriptionManager { return d.subs }

// Publications exposes the provider-side PublicationManager.
func (d *Dispatcher) Publications() *PublicationManager { return d.pubs }

// Registry exposes the RequestCallerRegistry.
func (d *Dispatcher) Registry() *RequestCallerRegistry { return d.registry }

// Close stops accepting new envelopes, drains workers, and releases
// background resources (the reply sweeper, the persistence store).
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
	d.replies.Close()
	if d.pubs.store != nil {
		return d.pubs.store.Close()
	}
	return nil
}
