package domain

import (
	"strings"
	"time"
)

// LocalUser is the application's own record for an authenticated person.
type LocalUser struct {
	ID              string
	ProviderSubject *string
	Email           string
	FirstName       string
	LastName        string
	IsActive        bool
	IsDeleted       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SubjectLinked reports whether the user is linked to the given provider subject.
func (u *LocalUser) SubjectLinked(subject string) bool {
	return u.ProviderSubject != nil && *u.ProviderSubject == subject
}

// NormalizeEmail lowercases and trims an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
