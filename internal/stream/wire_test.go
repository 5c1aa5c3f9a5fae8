package stream

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestDecodeWire_RoundTrip(t *testing.T) {
	event := Event{
		ObjectID:   42,
		ObjectType: "user",
		Type:       TypeUpdate,
		Data:       map[string]interface{}{"name": "alice"},
	}
	payload, err := event.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	wire := EncodePersisted(17, payload)
	seq, got, err := DecodeWire(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 17 {
		t.Fatalf("expected seq 17, got %d", seq)
	}

	var a, b map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		t.Fatalf("unmarshal original: %v", err)
	}
	if err := json.Unmarshal([]byte(got), &b); err != nil {
		t.Fatalf("unmarshal decoded: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("payload mismatch: %#v != %#v", a, b)
	}
}

func TestDecodeWire_Vanilla(t *testing.T) {
	seq, payload, err := DecodeWire(EncodeVanilla(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != NoSequence {
		t.Fatalf("expected NoSequence, got %d", seq)
	}
	if payload != `{"type":"ping"}` {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestDecodeWire_Malformed(t *testing.T) {
	for _, wire := range []string{"", "x payload", "i notanumber payload", "i 12"} {
		if _, _, err := DecodeWire(wire); err == nil {
			t.Fatalf("expected error for %q", wire)
		}
	}
}

func TestEvent_WireValue(t *testing.T) {
	when := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	event := Event{
		ObjectID:   7,
		ObjectType: "article",
		Type:       TypeCreate,
		Data:       map[string]interface{}{"publishedAt": when, "digest": []byte{0xde, 0xad}},
		Extra:      map[string]interface{}{"origin": "cms"},
	}

	wire := event.WireValue()
	if wire["objectId"] != 7 || wire["objectType"] != "article" || wire["type"] != "create" {
		t.Fatalf("unexpected standard keys: %#v", wire)
	}
	if wire["origin"] != "cms" {
		t.Fatalf("extra field not merged: %#v", wire)
	}
	data := wire["data"].(map[string]interface{})
	if data["publishedAt"] != "2026-03-14T09:26:53.000Z" {
		t.Fatalf("time not ISO8601Z: %v", data["publishedAt"])
	}
	if data["digest"] != "dead" {
		t.Fatalf("bytes not lowercase hex: %v", data["digest"])
	}
}

func TestEvent_WireValue_DeleteHasEmptyData(t *testing.T) {
	wire := Event{ObjectID: 3, ObjectType: "post", Type: TypeDelete}.WireValue()
	data, ok := wire["data"].(map[string]interface{})
	if !ok || len(data) != 0 {
		t.Fatalf("expected empty data object, got %#v", wire["data"])
	}
}

func TestEvent_ExtraDoesNotOverrideStandardKeys(t *testing.T) {
	wire := Event{
		ObjectType: "user",
		Type:       TypeUpdate,
		Extra:      map[string]interface{}{"type": "forged"},
	}.WireValue()
	if wire["type"] != TypeUpdate {
		t.Fatalf("extra field overrode standard key: %v", wire["type"])
	}
}

func TestValidName(t *testing.T) {
	if !ValidName(GlobalStream) {
		t.Fatal("global stream should be valid")
	}
	if ValidName("") {
		t.Fatal("empty name should be invalid")
	}
	long := make([]byte, MaxNameBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	if ValidName(string(long)) {
		t.Fatal("over-length name should be invalid")
	}
}
