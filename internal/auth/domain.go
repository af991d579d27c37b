package auth

import "time"

// User represents an account that can sign in. PasswordHash is empty for
// accounts created through an external identity provider.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExternalIdentity is the verified identity returned by an external provider.
type ExternalIdentity struct {
	Subject string
	Email   string
	Name    string
}
