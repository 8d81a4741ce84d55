package event

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/chrono/internal/capsule"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// event always produces identical payload bytes. Account IDs encode as
// their hex text form via MarshalText.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("event: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("event: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope wraps an event for delivery and storage.
type Envelope struct {
	ID        string            `json:"id"`
	Kind      capsule.EventKind `json:"kind"`
	CapsuleID capsule.ID        `json:"capsule_id"`
	Payload   []byte            `json:"payload"`
}

// Seal encodes ev into an envelope with an ID from gen.
func Seal(gen IDGenerator, ev capsule.Event) (Envelope, error) {
	payload, err := Marshal(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        gen.Generate(),
		Kind:      ev.Kind(),
		CapsuleID: ev.Capsule(),
		Payload:   payload,
	}, nil
}

// Open decodes the envelope payload back into its event.
func (e Envelope) Open() (capsule.Event, error) {
	return Unmarshal(e.Kind, e.Payload)
}

// Marshal encodes an event payload as deterministic CBOR.
func Marshal(ev capsule.Event) ([]byte, error) {
	data, err := encMode.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return data, nil
}

// Unmarshal decodes a payload of the given kind.
func Unmarshal(kind capsule.EventKind, data []byte) (capsule.Event, error) {
	switch kind {
	case capsule.KindCapsuleCreated:
		var ev capsule.Created
		if err := decMode.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ev, nil
	case capsule.KindCapsuleOpened:
		var ev capsule.Opened
		if err := decMode.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
