package repository

import "errors"

var (
	// ErrInvalidRecord indicates a record missing required fields
	ErrInvalidRecord = errors.New("invalid prediction record")

	// ErrRepositoryUnavailable indicates the repository is unavailable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
