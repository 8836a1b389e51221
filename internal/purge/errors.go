package purge

import "errors"

var (
	// ErrProbe is returned when measuring the blob directory fails.
	ErrProbe = errors.New("usage probe failed")

	// ErrOwnershipCheck is returned when the backlink index cannot be read.
	ErrOwnershipCheck = errors.New("ownership check failed")

	// ErrDeletion is returned when the store fails to remove a blob.
	ErrDeletion = errors.New("blob deletion failed")

	// ErrConfiguration is returned by NewScheduler when a collaborator is missing.
	ErrConfiguration = errors.New("invalid purge configuration")
)
