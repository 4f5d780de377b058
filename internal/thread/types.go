// Package thread provides durable conversation storage.
//
// Responsibilities: persist ordered threads and messages to PostgreSQL. The
// conversation store is the source of truth for history; the vector index in
// internal/knowledge only mirrors it for search.
package thread

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ValidRole reports whether role is one of the accepted values.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Thread is an ordered conversation. The ID is immutable once assigned.
type Thread struct {
	ID        uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one conversation turn. Messages are append-only: once written
// they are never updated.
type Message struct {
	ID             uuid.UUID
	ThreadID       uuid.UUID
	Role           string
	Content        string
	Packet         *string // assistant messages: transient context packet, nil otherwise
	SequenceNumber int32
	CreatedAt      time.Time
}
