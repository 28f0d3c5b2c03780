package wire

import (
	"strings"
	"testing"

	"github.com/tanejaashish/Teleprompter-Pro-sub001/internal/ot"
)

func TestOperationRoundTrip(t *testing.T) {
	msg := SubmitOperation{
		DocumentID: "doc1",
		Operation: ot.Operation{
			ID:               "op1",
			Kind:             ot.Insert,
			Position:         5,
			Text:             " World",
			AuthorID:         "u1",
			LogicalTimestamp: 42,
		},
		ClientVersion: 3,
	}
	data, err := EncodeClient(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeClient(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(SubmitOperation)
	if !ok {
		t.Fatalf("decoded type: %T", decoded)
	}
	if got.Operation != msg.Operation || got.ClientVersion != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestServerBroadcastRoundTrip(t *testing.T) {
	msg := OperationBroadcast{
		DocumentID: "doc1",
		Operation:  ot.Operation{ID: "op1", Kind: ot.Delete, Position: 2, Length: 3, AuthorID: "u2"},
		Version:    7,
	}
	data, err := EncodeServer(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeServer(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(OperationBroadcast)
	if !ok {
		t.Fatalf("decoded type: %T", decoded)
	}
	if got.Version != 7 || got.Operation.Length != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestUnknownTypeFailsLoudly(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"mystery","payload":{}}`))
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("unknown client type must fail with the offending tag, got %v", err)
	}

	_, err = DecodeServer([]byte(`{"type":"operation","payload":{}}`))
	if err == nil {
		t.Fatal("client-only tag must not decode as a server message")
	}
}

func TestMalformedEnvelope(t *testing.T) {
	if _, err := DecodeClient([]byte(`not json`)); err == nil {
		t.Fatal("garbage must not decode")
	}
	if _, err := DecodeClient([]byte(`{"type":"join","payload":"not an object"}`)); err == nil {
		t.Fatal("mistyped payload must not decode")
	}
}
