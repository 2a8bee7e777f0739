package v1

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{name: "hello", env: Envelope{V: Version, Type: TypeHello}, ok: true},
		{name: "send", env: Envelope{V: Version, Type: TypeChatSendMessage}, ok: true},
		{name: "missing_version", env: Envelope{Type: TypeHello}},
		{name: "wrong_version", env: Envelope{V: "v2", Type: TypeHello}},
		{name: "missing_type", env: Envelope{V: Version}},
		{name: "server_type", env: Envelope{V: Version, Type: TypeMessageNew}},
		{name: "unknown_type", env: Envelope{V: Version, Type: "admin.shutdown"}},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestDestinationFor(t *testing.T) {
	t.Parallel()

	want := map[string]string{
		TypeMessageNew:          DestMessages,
		TypeMessageRead:         DestReceipts,
		TypeTyping:              DestTyping,
		TypeNotificationCreated: DestNotifications,
		TypePresenceOnline:      DestPresence,
		TypePresenceOffline:     DestPresence,
		TypeHelloAck:            "",
		TypeError:               "",
	}
	for typ, dest := range want {
		if got := DestinationFor(typ); got != dest {
			t.Fatalf("DestinationFor(%s)=%q want %q", typ, got, dest)
		}
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	t.Parallel()

	p, _ := json.Marshal(SendMessagePayload{To: "u2", ClientMsgID: "c1", Text: "hi"})
	b, err := json.Marshal(Envelope{V: Version, Type: TypeChatSendMessage, Payload: p})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, frag := range []string{`"v":"v1"`, `"type":"chat.sendMessage"`, `"clientMsgId":"c1"`} {
		if !strings.Contains(s, frag) {
			t.Fatalf("missing %s in %s", frag, s)
		}
	}
	if strings.Contains(s, `"dest"`) {
		t.Fatalf("empty dest should be omitted: %s", s)
	}
}
