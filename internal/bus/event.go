package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// name ("store.message.appended", "roster.updated", ...); subscribers
// filter by namespace prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
