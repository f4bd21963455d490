package model

import "errors"

var (
	// ErrRecordNotFound is returned by stores for an unknown key.
	ErrRecordNotFound = errors.New("position record not found")

	// ErrCorruptRecord marks a stored record that could not be decoded.
	ErrCorruptRecord = errors.New("corrupt position record")

	// ErrInvalidRecord marks a decoded record that cannot be evaluated.
	ErrInvalidRecord = errors.New("invalid position record")

	// ErrLockHeld is returned when another invocation holds the record lock.
	ErrLockHeld = errors.New("position record locked")
)
