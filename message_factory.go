package dispatch

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageFactory builds Envelopes from typed bodies. It is pure and
// stateless aside from the Clock it reads the current time from.
type MessageFactory struct {
	clock Clock
}

// NewMessageFactory builds a MessageFactory using clk as its time source.
func NewMessageFactory(clk Clock) *MessageFactory {
	return &MessageFactory{clock: clk}
}

// Envelope constructs an Envelope with a fresh MessageID and an expiry
// computed from qos.TTLMs.
func (f *MessageFactory) Envelope(kind Kind, sender, recipient ParticipantId, qos MessagingQos, payload []byte, headers map[string]string) Envelope {
	now := f.clock.Now()
	return Envelope{
		Kind:         kind,
		Sender:       sender,
		Recipient:    recipient,
		ExpiryDateMs: uint64(now.UnixMilli()) + qos.TTLMs,
		Headers:      headers,
		Payload:      payload,
		MessageID:    uuid.NewString(),
	}
}

// NewRequestReplyID generates a fresh correlation id for a Request.
func (f *MessageFactory) NewRequestReplyID() string {
	return uuid.NewString()
}

// NewSubscriptionID generates a fresh subscription id, used when a
// SubscriptionRequest is registered without one already assigned.
func (f *MessageFactory) NewSubscriptionID() string {
	return uuid.NewString()
}

// SplitJSONObjects accepts a byte buffer containing one or more concatenated
// JSON objects and returns the ordered list of top-level object byte ranges,
// counting brace depth while respecting (non-escaped) string delimiters.
// Behavior is defined only for syntactically valid input, per spec §6.
func SplitJSONObjects(stream []byte) ([][]byte, error) {
	var objects [][]byte
	depth := 0
	insideString := false
	start := -1

	for i := 0; i < len(stream); i++ {
		c := stream[i]

		switch {
		case c == '"' && (i == 0 || stream[i-1] != '\\'):
			insideString = !insideString
		case !insideString && c == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case !insideString && c == '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("splitJSONObjects: unbalanced '}' at byte %d", i)
			}
			if depth == 0 && start >= 0 {
				objects = append(objects, stream[start:i+1])
				start = -1
			}
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("splitJSONObjects: unbalanced braces, %d still open", depth)
	}

	return objects, nil
}
