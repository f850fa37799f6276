package lifecycle

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

func TestSanitizeMetadata(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	id := int64(7)

	in := map[string]any{
		"when":    ts,
		"whenPtr": &ts,
		"nilPtr":  (*time.Time)(nil),
		"status":  models.StatusAssigned,
		"id":      &id,
		"nested": map[string]any{
			"items": []any{models.EventReject, 1, "x"},
		},
		"ints":   []int64{1, 2},
		"keyed":  map[int]string{4: "four"},
		"struct": struct{ A string }{A: "a"},
	}
	out := sanitizeMap(in)

	if out["when"] != "2025-03-10T12:00:00Z" || out["whenPtr"] != "2025-03-10T12:00:00Z" {
		t.Fatalf("timestamps: %+v", out)
	}
	if out["nilPtr"] != nil {
		t.Fatalf("nil pointer should sanitize to nil, got %v", out["nilPtr"])
	}
	if out["status"] != "Assigned" {
		t.Fatalf("status: %v", out["status"])
	}
	if out["id"] != int64(7) {
		t.Fatalf("pointer int: %v", out["id"])
	}
	nested := out["nested"].(map[string]any)
	if !reflect.DeepEqual(nested["items"], []any{"Reject", 1, "x"}) {
		t.Fatalf("nested items: %+v", nested["items"])
	}
	if !reflect.DeepEqual(out["ints"], []any{int64(1), int64(2)}) {
		t.Fatalf("typed slice: %+v", out["ints"])
	}
	keyed := out["keyed"].(map[string]any)
	if keyed["4"] != "four" {
		t.Fatalf("non-string map keys: %+v", keyed)
	}
	s := out["struct"].(map[string]any)
	if s["A"] != "a" {
		t.Fatalf("struct round-trip: %+v", s)
	}

	// The whole result must be storable as JSON.
	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("sanitized metadata not JSON-safe: %v", err)
	}
}

func TestNewEventStampsActorAndTime(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ev := newEvent(models.EventDelete, Actor{ID: 1, Role: models.RoleAdmin}, at, map[string]any{"deleted_at": at})
	if ev.Type != models.EventDelete || ev.ActorUserID != 1 || !ev.CreatedAt.Equal(at) {
		t.Fatalf("event: %+v", ev)
	}
	if ev.Metadata["deleted_at"] != "2025-03-10T12:00:00Z" {
		t.Fatalf("metadata: %+v", ev.Metadata)
	}
}
