package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ParticipantId is an opaque, globally unique identifier for a communication
// endpoint (a consumer proxy or a provider).
type ParticipantId string

// NewParticipantID generates a fresh ParticipantId for callers that don't
// supply their own.
func NewParticipantID() ParticipantId {
	return ParticipantId(uuid.NewString())
}

// Kind identifies the logical type of an Envelope's payload, determining
// which component of the Dispatcher handles it.
type Kind uint8

const (
	KindRequest Kind = iota
	KindReply
	KindSubscriptionRequest
	KindSubscriptionPublication
	KindSubscriptionStop
	KindBroadcastSubscriptionRequest
	KindMulticast
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindReply:
		return "Reply"
	case KindSubscriptionRequest:
		return "SubscriptionRequest"
	case KindSubscriptionPublication:
		return "SubscriptionPublication"
	case KindSubscriptionStop:
		return "SubscriptionStop"
	case KindBroadcastSubscriptionRequest:
		return "BroadcastSubscriptionRequest"
	case KindMulticast:
		return "Multicast"
	default:
		return "Unknown"
	}
}

// MessagingQos drives an Envelope's expiry.
type MessagingQos struct {
	TTLMs uint64
}

// Envelope is the transport-agnostic message unit the Dispatcher consumes
// and produces. Payload is opaque octets; wire serialization is a
// collaborator's concern (see MessageFactory and the serializer it wraps).
type Envelope struct {
	Kind         Kind
	Sender       ParticipantId
	Recipient    ParticipantId
	ExpiryDateMs uint64
	Headers      map[string]string
	Payload      []byte

	// MessageID uniquely identifies this envelope instance, independent of
	// any request/reply correlation id carried in Payload. Restored from
	// the original wire format per SPEC_FULL.md's data-model expansion.
	MessageID string
}

// Expired reports whether the envelope's expiry has elapsed as of now.
func (e Envelope) Expired(now time.Time) bool {
	return uint64(now.UnixMilli()) >= e.ExpiryDateMs
}

// Validate enforces the Envelope invariant: expiryDateMs must be in the
// future relative to createdAt.
func (e Envelope) Validate(createdAt time.Time) error {
	if e.Sender == "" {
		return fmt.Errorf("envelope: sender participant id is empty")
	}
	if e.Recipient == "" {
		return fmt.Errorf("envelope: recipient participant id is empty")
	}
	if e.ExpiryDateMs <= uint64(createdAt.UnixMilli()) {
		return fmt.Errorf("envelope: expiryDateMs %d is not after creation time %d", e.ExpiryDateMs, createdAt.UnixMilli())
	}
	return nil
}

// ValueKind identifies the dynamic type carried by a Variant.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueBool
	ValueInt64
	ValueFloat64
	ValueString
	ValueBlob
)

// Variant is a tagged-sum payload value, replacing the source's
// list<variant> tagged by a datatype-name string (SPEC_FULL.md data model
// expansion, §9 "Dynamic-type payloads"). Domain types that aren't one of
// the known primitive kinds travel as an opaque Blob tagged with TypeName,
// to be decoded by a schema registry keyed by interface name.
type Variant struct {
	Kind     ValueKind
	Bool     bool
	Int64    int64
	Float64  float64
	Str      string
	Blob     []byte
	TypeName string
}

func BoolValue(v bool) Variant       { return Variant{Kind: ValueBool, Bool: v} }
func IntValue(v int64) Variant       { return Variant{Kind: ValueInt64, Int64: v} }
func FloatValue(v float64) Variant   { return Variant{Kind: ValueFloat64, Float64: v} }
func StringValue(v string) Variant   { return Variant{Kind: ValueString, Str: v} }
func BlobValue(typeName string, v []byte) Variant {
	return Variant{Kind: ValueBlob, TypeName: typeName, Blob: v}
}
