package store

import "errors"

var (
	ErrNotFound    = errors.New("entity not found")
	ErrDuplicate   = errors.New("duplicate field value")
	ErrEmptyField  = errors.New("required field is empty")
	ErrUnknownKind = errors.New("unknown entity kind")
)
