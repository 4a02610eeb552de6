package dispatch

import "encoding/json"

// Wire encodings for Envelope payloads. The Envelope's payload is opaque
// octets per spec §6 ("determined by serializer collaborator"); this
// module supplies one concrete, JSON-based serializer as MessageFactory's
// companion so Dispatcher.receive and PublicationManager have something
// concrete to decode in tests, the way the teacher's internal/packets
// supplies one concrete wire encoding for MQTT control packets.

type wireError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func encodeError(err error) *wireError {
	if err == nil {
		return nil
	}
	kind := KindRuntime
	if de, ok := err.(*DispatchError); ok {
		kind = de.Kind
	}
	return &wireError{Kind: kind, Message: err.Error()}
}

func (w *wireError) decode() error {
	if w == nil {
		return nil
	}
	return NewError(w.Kind, w.Message, nil)
}

type wireRequest struct {
	RequestReplyID string    `json:"requestReplyId"`
	MethodName     string    `json:"methodName"`
	Params         []Variant `json:"params"`
	ParamDatatypes []string  `json:"paramDatatypes"`
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(wireRequest{
		RequestReplyID: req.RequestReplyID,
		MethodName:     req.MethodName,
		Params:         req.Params,
		ParamDatatypes: req.ParamDatatypes,
	})
}

func decodeRequest(data []byte) (Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return Request{}, err
	}
	return Request{RequestReplyID: w.RequestReplyID, MethodName: w.MethodName, Params: w.Params, ParamDatatypes: w.ParamDatatypes}, nil
}

type wireReply struct {
	RequestReplyID string     `json:"requestReplyId"`
	Response       []Variant  `json:"response,omitempty"`
	Error          *wireError `json:"error,omitempty"`
}

func encodeReply(reply Reply) ([]byte, error) {
	return json.Marshal(wireReply{
		RequestReplyID: reply.RequestReplyID,
		Response:       reply.Response,
		Error:          encodeError(reply.Error),
	})
}

func decodeReply(data []byte) (Reply, error) {
	var w wireReply
	if err := json.Unmarshal(data, &w); err != nil {
		return Reply{}, err
	}
	return Reply{RequestReplyID: w.RequestReplyID, Response: w.Response, Error: w.Error.decode()}, nil
}

type wireSubscriptionRequest struct {
	SubscriptionID   string          `json:"subscriptionId"`
	SubscribeToName  string          `json:"subscribeToName"`
	Qos              SubscriptionQos `json:"qos"`
	ProxyParticipant ParticipantId   `json:"proxyParticipant"`
}

func encodeSubscriptionRequest(req SubscriptionRequest) ([]byte, error) {
	return json.Marshal(wireSubscriptionRequest{
		SubscriptionID:   req.SubscriptionID,
		SubscribeToName:  req.SubscribeToName,
		Qos:              req.Qos,
		ProxyParticipant: req.ProxyParticipant,
	})
}

func decodeSubscriptionRequest(data []byte) (SubscriptionRequest, error) {
	var w wireSubscriptionRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return SubscriptionRequest{}, err
	}
	return SubscriptionRequest{SubscriptionID: w.SubscriptionID, SubscribeToName: w.SubscribeToName, Qos: w.Qos, ProxyParticipant: w.ProxyParticipant}, nil
}

type wireSubscriptionPublication struct {
	SubscriptionID string     `json:"subscriptionId"`
	Response       []Variant  `json:"response,omitempty"`
	Error          *wireError `json:"error,omitempty"`
}

func encodeSubscriptionPublication(pub SubscriptionPublication) ([]byte, error) {
	return json.Marshal(wireSubscriptionPublication{
		SubscriptionID: pub.SubscriptionID,
		Response:       pub.Response,
		Error:          encodeError(pub.Error),
	})
}

func decodeSubscriptionPublication(data []byte) (SubscriptionPublication, error) {
	var w wireSubscriptionPublication
	if err := json.Unmarshal(data, &w); err != nil {
		return SubscriptionPublication{}, err
	}
	return SubscriptionPublication{SubscriptionID: w.SubscriptionID, Response: w.Response, Error: w.Error.decode()}, nil
}

type wireSubscriptionStop struct {
	SubscriptionID string `json:"subscriptionId"`
}

func encodeSubscriptionStop(stop SubscriptionStop) ([]byte, error) {
	return json.Marshal(wireSubscriptionStop{SubscriptionID: stop.SubscriptionID})
}

func decodeSubscriptionStop(data []byte) (SubscriptionStop, error) {
	var w wireSubscriptionStop
	if err := json.Unmarshal(data, &w); err != nil {
		return SubscriptionStop{}, err
	}
	return SubscriptionStop{SubscriptionID: w.SubscriptionID}, nil
}
