package types

import "time"

// Account represents the local authoritative copy of a user profile.
// The identity provider remains the system of record for credentials;
// this record only mirrors the profile attributes the gateway forwards.
type Account struct {
	// ID is the unique identifier of the account. It is issued by the
	// upstream identity provider and supplied by the caller, never
	// generated locally, and never changes once the record exists.
	ID string `json:"id" db:"id"`

	// Email is the user's email address.
	Email string `json:"email" db:"email"`

	// FirstName is the user's given name.
	FirstName string `json:"firstName" db:"first_name"`

	// LastName is the user's family name.
	LastName string `json:"lastName" db:"last_name"`

	// Username is the login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Roles is the role label (or comma-joined labels) forwarded by the
	// gateway, e.g. "admin" or "admin,user". List filtering matches on
	// containment, not equality.
	Roles string `json:"roles" db:"roles"`

	// CreatedAt is the timestamp of the first registration for this ID.
	// Subsequent registrations never overwrite it.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
