package node

import "errors"

var (
	// ErrNotFound means the target process does not exist (or has exited).
	ErrNotFound = errors.New("process not found")
	// ErrAlreadyExists is returned when spawning a name that is taken.
	ErrAlreadyExists = errors.New("process already exists")
	// ErrNoReply means the target exited without answering a request.
	ErrNoReply = errors.New("process exited without reply")
	// ErrExit is matched by errors returned from Exit.
	ErrExit = errors.New("process exit")
)

type exitError struct {
	cause error
}

func (e *exitError) Error() string {
	if e.cause == nil {
		return ErrExit.Error()
	}
	return ErrExit.Error() + ": " + e.cause.Error()
}

func (e *exitError) Unwrap() []error {
	return []error{ErrExit, e.cause}
}

// Exit is returned by a handler to end its process. cause may be nil for a
// normal exit.
func Exit(cause error) error {
	return &exitError{cause: cause}
}
