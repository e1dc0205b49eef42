package core

import "errors"

var (
	ErrNotFound        = errors.New("store: not found")
	ErrConflict        = errors.New("store: conflict")
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrLinkExists: the (provider, subject) pair is attached to another session.
	ErrLinkExists = errors.New("store: link exists")
)
