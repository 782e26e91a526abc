package dto

import "time"

// UserResponse describes the resolved local user.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// PrincipalResponse is returned by GET /v1/me.
type PrincipalResponse struct {
	User   UserResponse `json:"user"`
	Source string       `json:"claims_source"`
	Stale  bool         `json:"stale"`
}

// QuotaResponse reports the remaining AI allowance.
type QuotaResponse struct {
	Tier      string    `json:"tier"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Degraded  bool      `json:"degraded,omitempty"`
}
