// Package realtime provides row-change notifications: the event and filter types,
// the Channel contract consumed by the messaging core, and an in-process Hub.
package realtime

import (
	"context"
	"time"
)

// EventType is the kind of row change carried by an Event.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
	// Any matches every event type when used in a Filter.
	Any EventType = "*"
)

// Event describes a change to one row. Columns carries the string-valued columns
// that filters match on (ids); consumers re-fetch instead of trusting it.
type Event struct {
	Table   string
	Type    EventType
	Columns map[string]string
	At      time.Time
}

// Clause is a conjunction of column equalities.
type Clause map[string]string

// Filter selects events for a subscription. An event matches when its table equals
// Table, its type is listed in Types (or Types is empty or contains Any), and at
// least one clause in Match holds. An empty Match accepts every row.
type Filter struct {
	Table string
	Types []EventType
	Match []Clause
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if !f.acceptsType(e.Type) {
		return false
	}
	if len(f.Match) == 0 {
		return true
	}
	for _, c := range f.Match {
		if c.holds(e.Columns) {
			return true
		}
	}
	return false
}

func (f Filter) acceptsType(t EventType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if want == Any || want == t {
			return true
		}
	}
	return false
}

func (c Clause) holds(cols map[string]string) bool {
	for k, v := range c {
		got, ok := cols[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// Handler receives matching events. Handlers of one subscription are called serially.
type Handler func(Event)

// Channel is a pub/sub source of row-change events.
type Channel interface {
	Subscribe(ctx context.Context, f Filter, h Handler) (int64, error)
	Unsubscribe(ctx context.Context, id int64) error
}

// Publisher accepts events produced by a store's write path or an external feed.
type Publisher interface {
	Publish(e Event)
}
