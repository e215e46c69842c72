package agreement

import "errors"

// Error taxonomy shared by the ledger client, record store, reconciliation
// loop, and submission coordinator. Ledger truth always wins over record
// store truth: ErrRecordStoreUnavailable never blocks or reverts a ledger
// action, and ErrLedgerUnavailable surfaces only as view staleness.
var (
	// ErrLedgerUnavailable is transient: network failure or timeout talking
	// to the ledger gateway. Retried on the next reconciliation tick.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrLedgerRejected means the ledger itself refused the operation, e.g.
	// an invalid state transition. Terminal for that action.
	ErrLedgerRejected = errors.New("ledger rejected operation")

	// ErrRecordStoreUnavailable is a non-fatal warning: the off-chain record
	// store could not be reached.
	ErrRecordStoreUnavailable = errors.New("record store unavailable")

	// ErrValidation marks bad input rejected before any remote call.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks an action invalid for the current status, or a
	// duplicate in-flight submission. Rejected before any remote call.
	ErrConflict = errors.New("conflicting operation")

	// ErrNotFound means the agreement reference is unknown.
	ErrNotFound = errors.New("agreement not found")
)
