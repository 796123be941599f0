package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeActivity, TS: time.Now()}
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: ok},
		{name: "missing version", env: Envelope{Type: TypeLock}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeLock}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_send"}, wantErr: true},
		{name: "server type", env: Envelope{V: Version, Type: TypeLocked}},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(PinPayload{Pin: "4821"})
	raw, err := json.Marshal(Envelope{V: Version, Type: TypePinSubmit, ID: "x", Payload: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["v"] != "v1" || m["type"] != "pin_submit" {
		t.Fatalf("unexpected wire shape: %s", raw)
	}
	p, _ := m["payload"].(map[string]any)
	if p["pin"] != "4821" {
		t.Fatalf("payload not nested: %s", raw)
	}
}
