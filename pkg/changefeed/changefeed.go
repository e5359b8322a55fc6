// Package changefeed carries document change notifications between writers
// and live subscriptions.
package changefeed

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/syntrixbase/typestore/pkg/model"
)

// EventType represents the type of change
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event represents a document change
type Event struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Version    int64     `json:"version"`
	Timestamp  int64     `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, ref model.Ref, version int64) Event {
	return Event{
		Type:       typ,
		Collection: ref.Collection,
		ID:         ref.ID,
		Version:    version,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// Ref returns the changed document reference.
func (e Event) Ref() model.Ref {
	return model.Ref{Collection: e.Collection, ID: e.ID}
}

// Handler receives events. Handlers of one subscription are never called
// concurrently.
type Handler func(Event)

// Feed publishes and routes change events.
type Feed interface {
	// Publish sends the event to every subscription whose scope matches.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers handler for events in scope. The returned function
	// stops delivery and is safe to call twice.
	Subscribe(scope model.Scope, handler Handler) (func(), error)

	// Close stops all subscriptions.
	Close() error
}

// Subject returns the routing subject for events of collections named name,
// e.g. "typestore.books". Dots inside names are replaced to keep one token.
func Subject(prefix, name string) string {
	return prefix + "." + strings.ReplaceAll(name, ".", "_")
}

// Marshal encodes an event for transports.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Unmarshal decodes an event encoded by Marshal.
func Unmarshal(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
