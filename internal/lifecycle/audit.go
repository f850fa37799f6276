package lifecycle

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// newEvent builds an audit record for a state-changing operation. Metadata is
// sanitized into a JSON-safe shape here; the store appends the row atomically
// with the task commit and never touches it again.
func newEvent(typ models.EventType, actor Actor, at time.Time, meta map[string]any) *store.TaskEvent {
	return &store.TaskEvent{
		Type:        typ,
		Metadata:    sanitizeMap(meta),
		ActorUserID: actor.ID,
		CreatedAt:   at,
	}
}

func sanitizeMap(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = sanitize(v)
	}
	return out
}

// sanitize recursively converts a value into something JSON-safe: timestamps
// become RFC 3339 strings, enum labels become plain strings, maps and slices
// are walked. Unsupported values round-trip through JSON or fall back to
// their string representation; sanitize never fails.
func sanitize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64, float32, float64:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(time.RFC3339)
	case models.Status:
		return x.String()
	case models.Role:
		return x.String()
	case models.EventType:
		return x.String()
	case map[string]any:
		return sanitizeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = sanitize(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value().Interface())
		}
		return out
	}

	// Structs and anything else: JSON round-trip keeps the shape; the string
	// representation is the last resort so no value is ever dropped.
	if b, err := json.Marshal(v); err == nil {
		var out any
		if json.Unmarshal(b, &out) == nil {
			return out
		}
	}
	return fmt.Sprint(v)
}
