package store

import "errors"

// ErrNotFound is returned when a record does not exist or its id is invalid.
var ErrNotFound = errors.New("not found")
