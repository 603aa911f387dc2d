package core

import (
	"errors"
	"fmt"
)

// ErrDuplicateEvent marks an already-projected event. Not a failure:
// callers treat it as an idempotent no-op.
var ErrDuplicateEvent = errors.New("duplicate event")

// UnresolvedReferenceError marks an event that refers to a market or bet
// the projector has not seen yet (bet-before-market and claim-before-bet
// races). The event stays unprocessed and is retried by the poll sweep;
// it is never dropped.
type UnresolvedReferenceError struct {
	Kind string // "market" or "bet"
	ID   int64
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference: %d", e.Kind, e.ID)
}

// MalformedEventError marks an event whose payload cannot be projected
// at all (missing both claim identifiers, empty address). The event is
// quarantined for manual inspection so it stops blocking the stream.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed event: " + e.Reason
}

// IsUnresolved reports whether the error is an unresolved reference.
func IsUnresolved(err error) bool {
	var unresolved *UnresolvedReferenceError
	return errors.As(err, &unresolved)
}

// IsMalformed reports whether the error calls for quarantine.
func IsMalformed(err error) bool {
	var malformed *MalformedEventError
	return errors.As(err, &malformed)
}
