package interfaces

import "polycast/pkg/types"

// Connection represents one client channel as seen by the room directory,
// the router and admin control.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// ID returns a process-unique identifier for logging and registry lookup.
	ID() string

	// Send queues a message for delivery (thread-safe). It never blocks for
	// longer than the connection's write timeout.
	Send(msg types.Outbound) error

	// SendAndClose queues a final message and closes the transport once it
	// has been flushed.
	SendAndClose(msg types.Outbound) error

	// Close terminates the transport immediately.
	Close() error

	// Association returns the room code and role, or ("", RoleNone).
	Association() (roomCode string, role types.Role)

	// SetAssociation binds the connection to a room. It succeeds at most
	// once per connection; roles never switch.
	SetAssociation(roomCode string, role types.Role) error

	// TargetLanguages returns the client-declared translation targets.
	TargetLanguages() []string
}
