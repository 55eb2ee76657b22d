package models

import "time"

// DefaultAvatar is shown for users who never set one.
const DefaultAvatar = "https://github.com/shadcn.png"

// User represents a row in the PostgreSQL users table.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	Password  string    `json:"-"` // never serialize
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// RegisterRequest is the JSON body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
