package storage

import "errors"

// ErrNotFound is returned when no open position has the requested id
var ErrNotFound = errors.New("position not found")

// ErrDuplicateID is returned when adding a position whose id is already open
var ErrDuplicateID = errors.New("duplicate position id")
