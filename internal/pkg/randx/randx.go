/*
Package randx generates the unique identifiers used across the server.

Connection ids are minted once per physical WebSocket connection and are never
reused; message ids identify persisted chat messages.
*/
package randx

import "github.com/google/uuid"

// ConnectionIDPrefix marks server-generated connection identifiers.
const ConnectionIDPrefix = "conn_"

// ConnectionID returns a new unique identifier for a physical connection.
// Stable for the connection's lifetime; a reconnect gets a fresh id.
func ConnectionID() string {
	return ConnectionIDPrefix + uuid.New().String()
}

// MessageID returns a UUID v4 string identifying a persisted chat message.
func MessageID() string {
	return uuid.New().String()
}
