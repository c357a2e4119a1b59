package types

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Envelope is the routed unit of relay traffic.
// Without TargetRooms it is delivered to every other connection; with it,
// only to members of the listed rooms. The sender never receives its own
// envelope.
type Envelope struct {
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
	TargetRooms []string        `json:"targetRooms,omitempty"`
}

// NewEnvelope encodes payload into an envelope addressed to targetRooms.
func NewEnvelope(event string, payload interface{}, targetRooms ...string) (Envelope, error) {
	env := Envelope{Event: event}
	if len(targetRooms) > 0 {
		env.TargetRooms = append([]string(nil), targetRooms...)
	}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// DecodeEnvelope parses a wire frame. It does not validate the event name.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Event)
	}
	return sonic.Unmarshal(e.Data, v)
}


// ExecutionRequest asks the executor to run SourceText.
type ExecutionRequest struct {
	RunID      string `json:"runId"`
	SourceText string `json:"sourceText"`
}

// ResponseKind tags an ExecutionResponse.
type ResponseKind string

const (
	KindResult ResponseKind = "RESULT"
	KindError  ResponseKind = "ERROR"
)

// ExecutionResponse is the single reply to an ExecutionRequest.
type ExecutionResponse struct {
	Kind    ResponseKind `json:"kind"`
	RunID   string       `json:"runId"`
	Value   interface{}  `json:"value,omitempty"`
	Message string       `json:"message,omitempty"`
}

// CancelRequest is a best-effort signal to stop a running request.
type CancelRequest struct {
	RunID string `json:"runId"`
}
