package transfer

import "errors"

var (
	// ErrInvalidTransition reports an out-of-turn or illegal state change.
	// The transfer is left untouched.
	ErrInvalidTransition = errors.New("transfer: invalid transition")

	// ErrNotFound reports an identifier absent from the registry, meaning
	// the transfer already concluded or never existed.
	ErrNotFound = errors.New("transfer: not found")

	// ErrDuplicateID reports a registration under an identifier that is
	// already live.
	ErrDuplicateID = errors.New("transfer: duplicate id")

	// ErrEmptyPayload reports a charge attempted with no items on a
	// transfer that was not created to allow them.
	ErrEmptyPayload = errors.New("transfer: empty payload")

	// ErrPeerUnresolved reports an operation that needs a peer before one
	// was selected.
	ErrPeerUnresolved = errors.New("transfer: peer unresolved")
)
