package vault

import "errors"

var (
	// ErrLockBusy indicates the advisory lock could not be acquired
	// within the bounded retry budget.
	ErrLockBusy = errors.New("advisory lock busy")

	// ErrNotVault indicates the root directory is not a vault.
	ErrNotVault = errors.New("not a vault root")
)
