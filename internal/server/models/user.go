// Package models defines the persistence-facing row types shared by the
// server repositories and services.
package models

import "time"

// User is an account within a customer org. Admin users may revoke other
// users' tokens and impersonate users of the same customer.
type User struct {
	ID         string
	Login      string
	CustomerID string
	Admin      bool
	CreatedAt  time.Time
}
