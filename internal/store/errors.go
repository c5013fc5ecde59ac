package store

import "errors"

// ErrNotFound is returned when no account exists for the given key.
var ErrNotFound = errors.New("not found")
