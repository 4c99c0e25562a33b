package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates an insert lost a race on a unique constraint.
var ErrConflict = errors.New("repository: conflict")
