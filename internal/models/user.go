package models

import "time"

// User is a directory entry. The chat core never mutates users except for
// refreshing presence fields from the directory.
type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"`
	Online     bool       `json:"online,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
