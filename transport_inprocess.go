package dispatch

import "context"

// receiver is the narrow capability an InProcessStub needs from a
// Dispatcher: the ability to hand it an Envelope for demultiplexing.
type receiver interface {
	Receive(env Envelope) error
}

// InProcessStub delivers an Envelope directly into a co-located Dispatcher's
// Receive method, with no serialization or network hop. This is the
// transport spec §6 names for communication between participants that share
// a process.
type InProcessStub struct {
	target receiver
}

// NewInProcessStub wraps target (typically a *Dispatcher) as a MessagingStub.
func NewInProcessStub(target receiver) *InProcessStub {
	return &InProcessStub{target: target}
}

func (s *InProcessStub) Transmit(ctx context.Context, env Envelope) error {
	return s.target.Receive(env)
}

// InProcessStubFactory creates InProcessStubs for AddressInProcess
// addresses, always resolving to the same target Dispatcher.
type InProcessStubFactory struct {
	Target receiver
}

func (f InProcessStubFactory) CanCreate(addr Address) bool {
	return addr.Kind == AddressInProcess
}

func (f InProcessStubFactory) Create(addr Address) (MessagingStub, error) {
	if f.Target == nil {
		return nil, NewError(KindRuntime, "inProcessStubFactory: no target configured", nil)
	}
	return NewInProcessStub(f.Target), nil
}
