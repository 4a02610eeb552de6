package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

// MethodFunc is a typed provider operation: decode params, invoke, return a
// response (or a domain error to be wrapped as ProviderRuntimeException).
type MethodFunc func(params []Variant) ([]Variant, error)

// InterfaceRegistrar holds, per interface name, the table of operations a
// RequestInterpreter dispatches into. No reflection-based decoding is used;
// this mirrors the teacher's typed-packet-per-kind approach rather than a
// generic marshal layer.
type InterfaceRegistrar struct {
	mu         sync.RWMutex
	interfaces map[string]map[string]MethodFunc
}

// NewInterfaceRegistrar returns an empty registrar.
func NewInterfaceRegistrar() *InterfaceRegistrar {
	return &InterfaceRegistrar{interfaces: make(map[string]map[string]MethodFunc)}
}

// Register adds (or replaces) the method table for interfaceName.
func (r *InterfaceRegistrar) Register(interfaceName string, methods map[string]MethodFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interfaces[interfaceName] = methods
}

// Unregister drops the method table for interfaceName.
func (r *InterfaceRegistrar) Unregister(interfaceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.interfaces, interfaceName)
}

func (r *InterfaceRegistrar) lookup(interfaceName, methodName string) (MethodFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods, ok := r.interfaces[interfaceName]
	if !ok {
		return nil, false
	}
	fn, ok := methods[methodName]
	return fn, ok
}

// RequestInterpreter invokes the typed operation named by a Request against
// the interface registered for a recipient, translating unknown-method and
// provider-thrown failures into the correct DispatchError kind.
type RequestInterpreter struct {
	registrar *InterfaceRegistrar
}

// NewRequestInterpreter builds an interpreter backed by registrar.
func NewRequestInterpreter(registrar *InterfaceRegistrar) *RequestInterpreter {
	return &RequestInterpreter{registrar: registrar}
}

// Registrar exposes the InterfaceRegistrar backing this interpreter, so a
// provider can register its method table and then wrap itself with
// NewInterfaceCaller for the same interface name.
func (i *RequestInterpreter) Registrar() *InterfaceRegistrar { return i.registrar }

// Invoke looks up interfaceName.methodName and calls it with req.Params. On
// success it returns the response values; on failure it returns a
// *DispatchError with KindMethodInvocation (unknown method) or
// KindProviderRuntime (the method itself returned a plain error). A
// *DispatchError returned by the method is passed through with its own Kind.
func (i *RequestInterpreter) Invoke(interfaceName string, req Request) ([]Variant, error) {
	fn, ok := i.registrar.lookup(interfaceName, req.MethodName)
	if !ok {
		return nil, NewError(KindMethodInvocation, fmt.Sprintf("unknown method %q on interface %q", req.MethodName, interfaceName), nil)
	}

	response, err := fn(req.Params)
	if err != nil {
		var de *DispatchError
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, NewError(KindProviderRuntime, err.Error(), err)
	}
	return response, nil
}

// InterfaceCaller adapts an interface name registered with an
// InterfaceRegistrar into a RequestCaller, so a provider that registers its
// operations dynamically (rather than implementing RequestCaller directly)
// can still be handed to Dispatcher.AddRequestCaller.
type InterfaceCaller struct {
	interpreter   *RequestInterpreter
	interfaceName string
}

// NewInterfaceCaller builds a RequestCaller that dispatches through
// interpreter's registrar under interfaceName.
func NewInterfaceCaller(interpreter *RequestInterpreter, interfaceName string) InterfaceCaller {
	return InterfaceCaller{interpreter: interpreter, interfaceName: interfaceName}
}

func (c InterfaceCaller) Invoke(methodName string, params []Variant) ([]Variant, error) {
	return c.interpreter.Invoke(c.interfaceName, Request{MethodName: methodName, Params: params})
}
