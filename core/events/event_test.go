package events

import (
	"testing"

	"collarfi/core/types"
)

func TestBufferDrainAndReset(t *testing.T) {
	var buf Buffer
	buf.Emit(Wrap(types.NewEvent("a")))
	buf.Emit(Wrap(types.NewEvent("b")))
	buf.Emit(nil)
	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}
	drained := buf.Drain()
	if len(drained) != 2 || drained[0].EventType() != "a" || drained[1].EventType() != "b" {
		t.Fatalf("unexpected drain result: %+v", drained)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after drain")
	}
	buf.Emit(Wrap(types.NewEvent("c")))
	buf.Reset()
	if len(buf.Drain()) != 0 {
		t.Fatalf("expected reset to drop events")
	}
}

func TestMultiAndPayload(t *testing.T) {
	var seen []string
	record := EmitterFunc(func(evt Event) {
		payload, ok := Payload(evt)
		if !ok {
			t.Fatalf("expected payload on %T", evt)
		}
		seen = append(seen, payload.Attributes["id"])
	})
	Multi{record, nil, NoopEmitter{}, record}.Emit(Wrap(types.NewEvent("x").Set("id", "7")))
	if len(seen) != 2 || seen[0] != "7" {
		t.Fatalf("unexpected fan-out: %v", seen)
	}
	if _, ok := Payload(Typed{}); ok {
		t.Fatalf("expected empty wrapper to carry no payload")
	}
}
