package users

import "time"

// User is a directory entry with the names of the roles it holds.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"isActive"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Detail adds the effective permission set to a User.
type Detail struct {
	User
	Permissions []string `json:"permissions"`
}
