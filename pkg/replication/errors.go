// Package replication drives the replication session state machine: slot
// acquisition, the streaming loop that turns wire messages into catalog
// updates and change events, and LSN feedback.
package replication

import (
	"errors"
	"fmt"
)

// Stop is the distinguished signal a Consumer handler returns to end the
// stream gracefully. The session swallows it and returns nil to its
// caller; any other error is surfaced.
var Stop = errors.New("replication: stop")

// SlotMissingError describes a START_REPLICATION failure for a slot that
// does not exist. The session detects that case with isSlotMissing and
// recovers from it locally by creating the slot and retrying; it does not
// construct a SlotMissingError, and callers never observe one.
type SlotMissingError struct {
	SlotName string
	Err      error
}

func (e *SlotMissingError) Error() string {
	return fmt.Sprintf("replication: slot %q missing: %v", e.SlotName, e.Err)
}

func (e *SlotMissingError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying replication connection.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("replication: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
