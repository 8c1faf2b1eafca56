package bus

import "time"

// Event is a link event published on the bus. Kinds are dotted names such
// as "link.delivery"; subscribers filter by prefix.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
