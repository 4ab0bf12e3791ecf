package types

import "errors"

// Entity validation errors
var (
	// ErrUnknownCommitOp is returned when a commit op string is not recognized
	ErrUnknownCommitOp = errors.New("unknown commit op")

	// ErrUnknownFileOp is returned when a file op string is not recognized
	ErrUnknownFileOp = errors.New("unknown file op")
)
