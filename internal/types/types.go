package types

import (
	"time"
)

// Message is a single chat message as stored in a room's history and
// delivered to clients. All display fields are opaque to the server.
type Message struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Color     string    `json:"color,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomInfo is the public summary of a room returned by the listing API.
type RoomInfo struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	HasPassword  bool      `json:"has_password"`
	MessageCount int       `json:"message_count"`
}

// Report is a moderation flag raised by a user against a message.
type Report struct {
	Room      string    `json:"room"`
	Id        string    `json:"id"`
	Reporter  string    `json:"reporter"`
	Timestamp time.Time `json:"timestamp"`
}
