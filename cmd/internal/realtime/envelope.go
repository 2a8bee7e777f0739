package realtime

import (
	"encoding/json"
	"time"

	"nexus/cmd/identity/ids"
	v1 "nexus/shared/contracts/realtime/v1"
)

// NewEnvelope builds a v1 envelope with a fresh ULID.
// payload may be a json.RawMessage, which is used as is.
func NewEnvelope(typ, dest string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return newEnvelope(typ, dest, raw, ts), nil
}

func newEnvelope(typ, dest string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, err := ids.NewULID(ts)
	if err != nil {
		id = ids.New()
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Dest:    dest,
		Payload: payload,
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
