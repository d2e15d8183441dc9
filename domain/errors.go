package domain

import "errors"

// Storage level errors returned by the collaborator stores.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)
