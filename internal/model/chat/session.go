package chat

import "time"

// Session captures one persona speaking in one room.
type Session struct {
	ID        string    `json:"id"`
	PersonaID string    `json:"personaId"`
	Room      string    `json:"room,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
