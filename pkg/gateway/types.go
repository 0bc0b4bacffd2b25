package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is a websocket event envelope
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"ts"`
	Seq       int64       `json:"seq"`
}

// Event names broadcast over the websocket stream.
const (
	EventMemoryCreated    = "memory.created"
	EventMemoryDeleted    = "memory.deleted"
	EventDocumentIngested = "document.ingested"
	EventServerShutdown   = "server.shutdown"
)

// Client represents a connected websocket client
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	writeMu sync.Mutex
}

// WriteMessage writes a message to the client, serialized per client.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// errorResponse is the JSON error body for all REST endpoints
type errorResponse struct {
	Error string `json:"error"`
}
