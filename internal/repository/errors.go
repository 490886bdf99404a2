package repository

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is matched by *AlreadyExistsError.
var ErrAlreadyExists = errors.New("script already exists")

// FilesystemError is an I/O failure on a script file. Op is the verb that
// was attempted: access, write, delete or walk.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// AlreadyExistsError is an Add that collides with a tracked source or
// identity, or with an untracked file at the target path. Existing is empty
// for the untracked-file case.
type AlreadyExistsError struct {
	Path     string
	Existing string
	Incoming string
}

func (e *AlreadyExistsError) Error() string {
	switch {
	case e.Existing == "":
		return fmt.Sprintf("add %q: file %s already exists", e.Incoming, e.Path)
	case e.Existing == e.Incoming:
		return fmt.Sprintf("add %q: already tracked at %s", e.Incoming, e.Path)
	default:
		return fmt.Sprintf("add %q: %s already holds %q", e.Incoming, e.Path, e.Existing)
	}
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// Recovery is a recovery callback's answer to a per-file load failure.
type Recovery int

const (
	Ignore Recovery = iota
	Retry
	// Remove deletes the offending file. Only honored for deserialization
	// errors.
	Remove
)

func (r Recovery) String() string {
	switch r {
	case Ignore:
		return "ignore"
	case Retry:
		return "retry"
	case Remove:
		return "remove"
	default:
		return fmt.Sprintf("Recovery(%d)", int(r))
	}
}

// RecoveryFunc decides what happens to a file that failed to load.
type RecoveryFunc func(err error, path string) Recovery
