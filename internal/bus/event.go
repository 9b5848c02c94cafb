package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. "wa." events carry raw protocol traffic and form the
// surface the command router consumes; "conn." events drive the
// connection lifecycle manager; "session." events report state changes.
const (
	KindMessage     = "wa.message"
	KindCall        = "wa.call"
	KindGroupUpdate = "wa.group_update"

	KindConnOpen   = "conn.open"
	KindConnClosed = "conn.closed"

	KindStatusChanged = "session.status_changed"
	KindPairRequired  = "session.pair_required"
	KindPaired        = "session.paired"
)

// ConnOpenPayload accompanies KindConnOpen.
type ConnOpenPayload struct {
	// Self is the JID assigned to this session.
	Self string
}

// ConnClosedPayload accompanies KindConnClosed.
type ConnClosedPayload struct {
	Cause string
	// LoggedOut marks the closure terminal: no reconnect may follow.
	LoggedOut bool
}
