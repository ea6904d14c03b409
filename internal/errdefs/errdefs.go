// Package errdefs defines the error taxonomy shared by the clone/flash
// engine. Callers classify failures with errors.Is and map them to exit
// codes in one place.
package errdefs

import "errors"

var (
	// ErrValidation covers missing or conflicting CLI arguments and
	// nonexistent devices/paths. Reported before any side effects.
	ErrValidation = errors.New("validation failed")

	// ErrToolMissing means a required external tool is absent. Fatal only
	// for the mandatory raw-copy baseline; filesystem-specific codecs
	// degrade to raw copy instead.
	ErrToolMissing = errors.New("required tool missing")

	// ErrDeviceNotReady means partition device nodes did not appear within
	// the settle window after a partition table restore.
	ErrDeviceNotReady = errors.New("device not ready")

	// ErrFetch is a remote image download failure. Not retried.
	ErrFetch = errors.New("fetch failed")

	// ErrConfig flags mutually exclusive or otherwise invalid source
	// configuration, checked before any I/O.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotFound is a missing local archive or input directory.
	ErrNotFound = errors.New("not found")

	// ErrMissingManifest means the source directory has no partition table
	// snapshot, so the intended layout is unknown and flashing cannot start.
	ErrMissingManifest = errors.New("partition table snapshot missing")

	// ErrCancelled is returned when the user declines a confirmation
	// prompt. It maps to exit code 0: the operation was cancelled, it did
	// not fail.
	ErrCancelled = errors.New("cancelled by user")
)
