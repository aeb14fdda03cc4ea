package entry

import "errors"

// Domain errors for the entry package.
var (
	// ErrEntryNotFound is returned when an entry id or device id does not exist.
	ErrEntryNotFound = errors.New("entry: not found")

	// ErrEntryExists is returned when an id or device id is already taken.
	ErrEntryExists = errors.New("entry: already exists")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("entry: invalid")
)
