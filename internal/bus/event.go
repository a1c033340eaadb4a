package bus

import (
	"strings"
	"time"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespace returns the part of Kind up to and including the first dot.
func (e Event) Namespace() string {
	if i := strings.IndexByte(e.Kind, '.'); i >= 0 {
		return e.Kind[:i+1]
	}
	return e.Kind
}
