package repository

import "errors"

// ErrNotFound is returned when a report, operation or version does not exist.
var ErrNotFound = errors.New("not found")
