// Package protocol defines the wire contract between paseo clients and the
// daemon session endpoint, plus the relay rendezvous frames shared by all
// three parties.
//
// Framing is one JSON message per websocket text frame. Every message is an
// Envelope with a required "type"; request-shaped messages carry a
// "requestId" and receive at most one response with the same id. Numeric
// ids are strings on the wire.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outer shape of every frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it. A nil payload yields an
// envelope with no payload field.
func NewEnvelope(msgType, requestID string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, RequestID: requestID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env.Payload = raw
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Response is the payload of every MsgResponse envelope.
type Response struct {
	Success bool            `json:"success"`
	Error   *Error          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// OK builds a success response around result (nil result allowed).
func OK(result any) (Response, error) {
	resp := Response{Success: true}
	if result == nil {
		return resp, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	resp.Result = raw
	return resp, nil
}

// Fail builds a failure response with the given code and message.
func Fail(code, format string, args ...any) Response {
	return Response{Success: false, Error: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// DecodeResult unmarshals the response result into dst.
func (r Response) DecodeResult(dst any) error {
	if len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, dst)
}
