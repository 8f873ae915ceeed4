package models

import "time"

// Notification is a durable, time-limited message informing a student of a
// server-side event, typically a recorded outcome. Rows survive until the
// reaper deletes them after ExpiresAt, read or not.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	Read      bool      `db:"read" json:"read"`
}

// NotificationEvent is the payload published on the real-time channel after
// the durable row is committed.
type NotificationEvent struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
