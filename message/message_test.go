package message

import (
	"encoding/json"
	"testing"

	"envelope-rpc/envelope"
)

type AddArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestResponseCarriesEnvelope(t *testing.T) {
	payload, err := envelope.MarshalEnvelope(envelope.Success(&AddArgs{ID: "1", Name: "Lost"}))
	if err != nil {
		t.Fatal(err)
	}
	resp := &RPCMessage{ServiceMethod: "Tracker.Add", Payload: payload}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Failed to marshal response: %v", err)
	}

	var resp2 RPCMessage
	if err := json.Unmarshal(data, &resp2); err != nil {
		t.Fatalf("Failed to unmarshal with error: %v", err)
	}
	if resp2.TransportFailure() {
		t.Fatal("a server response is not a transport failure")
	}

	env, err := envelope.UnmarshalEnvelope(resp2.Payload)
	if err != nil {
		t.Fatalf("payload is not an envelope: %v", err)
	}
	if env.Kind() != envelope.KindOK {
		t.Fatalf("expect OK envelope, got %v", env.Kind())
	}
}

func TestTransportFailure(t *testing.T) {
	m := &RPCMessage{Error: "connection reset by peer"}
	if !m.TransportFailure() {
		t.Fatal("expect transport failure")
	}
}
