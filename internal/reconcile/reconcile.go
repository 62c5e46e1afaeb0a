// Package reconcile merges change notifications into a locally held,
// filtered and paginated copy of a server collection.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"clinicstock/backend/internal/events"
)

var ErrMalformedEvent = errors.New("malformed event")

// Event is a decoded notification. Entity is set for added and updated, ID for
// deleted.
type Event[T any] struct {
	Type   events.Type
	Entity T
	ID     any
}

// Result is the next local collection. When Stale is set the caller must
// refetch; Items is then the unchanged input.
type Result[T any] struct {
	Items []T
	Stale bool
}

// Apply returns the collection after ev. items is never modified in place.
// match is the active filter, id extracts the entity key and page is the page
// the view is showing, starting at 1.
func Apply[T any](items []T, ev Event[T], match func(T) bool, id func(T) int64, page int) Result[T] {
	switch ev.Type {
	case events.Added:
		if !match(ev.Entity) {
			return Result[T]{Items: items}
		}
		key := id(ev.Entity)
		if idx := indexOf(items, key, id); idx >= 0 {
			return Result[T]{Items: replaceAt(items, idx, ev.Entity)}
		}
		if page > 1 {
			return Result[T]{Items: items, Stale: true}
		}
		out := make([]T, 0, len(items)+1)
		out = append(out, ev.Entity)
		return Result[T]{Items: append(out, items...)}

	case events.Updated:
		key := id(ev.Entity)
		idx := indexOf(items, key, id)
		matches := match(ev.Entity)
		switch {
		case idx >= 0 && matches:
			return Result[T]{Items: replaceAt(items, idx, ev.Entity)}
		case idx >= 0:
			return Result[T]{Items: removeAt(items, idx)}
		case matches:
			// The entity moved into the filter; where it belongs depends on
			// server-side ordering.
			return Result[T]{Items: items, Stale: true}
		default:
			return Result[T]{Items: items}
		}

	case events.Deleted:
		key, ok := NormalizeID(ev.ID)
		if !ok {
			return Result[T]{Items: items}
		}
		if idx := indexOf(items, key, id); idx >= 0 {
			return Result[T]{Items: removeAt(items, idx)}
		}
		return Result[T]{Items: items}

	default:
		return Result[T]{Items: items}
	}
}

func indexOf[T any](items []T, key int64, id func(T) int64) int {
	for i := range items {
		if id(items[i]) == key {
			return i
		}
	}
	return -1
}

func replaceAt[T any](items []T, idx int, v T) []T {
	out := make([]T, len(items))
	copy(out, items)
	out[idx] = v
	return out
}

func removeAt[T any](items []T, idx int) []T {
	out := make([]T, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

// NormalizeID coerces an identifier that may arrive as any numeric
// representation into an int64.
func NormalizeID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatID(float64(n))
	case float64:
		return floatID(n)
	case json.Number:
		return NormalizeID(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return floatID(f)
	default:
		return 0, false
	}
}

func floatID(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Decode turns a wire message into a typed event. A deleted message without
// an id falls back to the id field of its data.
func Decode[T any](msg events.Message) (Event[T], error) {
	ev := Event[T]{Type: msg.Type, ID: msg.ID}
	switch msg.Type {
	case events.Added, events.Updated:
		if len(msg.Data) == 0 {
			return Event[T]{}, fmt.Errorf("%w: %s without data", ErrMalformedEvent, msg.Type)
		}
		if err := json.Unmarshal(msg.Data, &ev.Entity); err != nil {
			return Event[T]{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
	case events.Deleted:
		if ev.ID == nil && len(msg.Data) > 0 {
			var ref struct {
				ID any `json:"id"`
			}
			if err := json.Unmarshal(msg.Data, &ref); err == nil {
				ev.ID = ref.ID
			}
		}
		if _, ok := NormalizeID(ev.ID); !ok {
			return Event[T]{}, fmt.Errorf("%w: deleted without usable id", ErrMalformedEvent)
		}
	default:
		return Event[T]{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, msg.Type)
	}
	return ev, nil
}
