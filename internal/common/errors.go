// Package common defines sentinel errors and small helpers shared by the
// orchestrator, the transfer agents and the console. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Orchestrator flow control.
	ErrBusy     = errors.New("another transfer is in progress")
	ErrDeclined = errors.New("backup request declined")
	ErrNoBackup = errors.New("no retrieved backup to decrypt")

	// Node-to-node round trips.
	ErrTimeout     = errors.New("request timed out")
	ErrUnavailable = errors.New("peer unavailable")
	ErrUnknownPeer = errors.New("unknown peer")

	// Protocol errors: a message that makes no sense in the current state.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// Agent lifecycle.
	ErrStalled      = errors.New("transfer stalled")
	ErrSenderFailed = errors.New("sending agent failed")

	// Transport authentication.
	ErrInvalidToken = errors.New("invalid token")
)
