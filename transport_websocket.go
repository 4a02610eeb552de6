package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"nhooyr.io/websocket"
)

// WebSocketStub transmits Envelopes as binary-framed JSON messages over a
// single nhooyr.io/websocket connection, dialed lazily on first use and
// reused thereafter. Grounded on the teacher's own examples/websocket,
// which dials with websocket.Dial and wraps the result as a net.Conn; this
// stub instead writes framed messages directly rather than going through
// the net.Conn adapter, since Envelopes are already discrete units and do
// not need MQTT's stream-oriented framing.
type WebSocketStub struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketStub returns a stub that dials url on first Transmit.
func NewWebSocketStub(url string) *WebSocketStub {
	return &WebSocketStub{url: url}
}

func (s *WebSocketStub) Transmit(ctx context.Context, env Envelope) error {
	conn, err := s.connection(ctx)
	if err != nil {
		return NewError(KindRuntime, "websocket dial", err)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return NewError(KindRuntime, "websocket encode envelope", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		return NewError(KindRuntime, "websocket write", err)
	}
	return nil
}

func (s *WebSocketStub) connection(ctx context.Context) (*websocket.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		Subprotocols: []string{"joynr"},
	})
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Close releases the underlying connection, if one was established.
func (s *WebSocketStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "closing")
	s.conn = nil
	return err
}

// WebSocketStubFactory creates WebSocketStubs for AddressWebSocket
// addresses, one per distinct host/port/path/protocol.
type WebSocketStubFactory struct{}

func (f WebSocketStubFactory) CanCreate(addr Address) bool {
	return addr.Kind == AddressWebSocket
}

func (f WebSocketStubFactory) Create(addr Address) (MessagingStub, error) {
	scheme := addr.Protocol
	if scheme == "" {
		scheme = "ws"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, addr.Host, addr.Port, addr.Path)
	return NewWebSocketStub(url), nil
}

// WebSocketClientStub transmits to a single already-accepted client
// connection, identified by the client's connecting participant id — the
// server-side counterpart of WebSocketStub, used when this process is the
// WebSocket server and a remote proxy is the dialer.
type WebSocketClientStub struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketClientStub wraps an already-accepted connection.
func NewWebSocketClientStub(conn *websocket.Conn) *WebSocketClientStub {
	return &WebSocketClientStub{conn: conn}
}

func (s *WebSocketClientStub) Transmit(ctx context.Context, env Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return NewError(KindRuntime, "websocketClientStub: connection closed", nil)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return NewError(KindRuntime, "websocket encode envelope", err)
	}
	return conn.Write(ctx, websocket.MessageBinary, payload)
}

// WebSocketClientStubFactory creates WebSocketClientStubs for
// AddressWebSocketClient addresses by looking an already-accepted
// connection up in a server-maintained registry.
type WebSocketClientStubFactory struct {
	mu    sync.RWMutex
	conns map[string]*websocket.Conn
}

// NewWebSocketClientStubFactory returns an empty factory; call Register as
// clients connect to the server side of the WebSocket listener.
func NewWebSocketClientStubFactory() *WebSocketClientStubFactory {
	return &WebSocketClientStubFactory{conns: make(map[string]*websocket.Conn)}
}

// Register associates clientID with an accepted connection.
func (f *WebSocketClientStubFactory) Register(clientID string, conn *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[clientID] = conn
}

// Unregister drops a disconnected client's connection.
func (f *WebSocketClientStubFactory) Unregister(clientID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, clientID)
}

func (f *WebSocketClientStubFactory) CanCreate(addr Address) bool {
	return addr.Kind == AddressWebSocketClient
}

func (f *WebSocketClientStubFactory) Create(addr Address) (MessagingStub, error) {
	f.mu.RLock()
	conn, ok := f.conns[addr.ClientID]
	f.mu.RUnlock()
	if !ok {
		return nil, NewError(KindRuntime, fmt.Sprintf("no registered connection for client %q", addr.ClientID), nil)
	}
	return NewWebSocketClientStub(conn), nil
}
