package domain

import "time"

// User is an account created on first Google login. Links are scoped to it.
type User struct {
	ID          int64     `json:"id"`
	GoogleID    string    `json:"google_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
