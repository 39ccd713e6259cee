package document

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code (of type RetCode) and an error message.
// Two errors are considered equal by errors.Is if their codes match.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("DocumentError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the return code of err.
// nil maps to RetCSuccess, errors that are no *Error map to RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsFatal reports whether err must stop the replica that produced it
func IsFatal(err error) bool {
	return CodeOf(err) == RetCFatalApply
}

// IsBenign reports whether code signals that the effect of a replayed operation
// already holds. Such results are treated as success.
func IsBenign(code RetCode) bool {
	return code == RetCUniqueConstraintViolated || code == RetCDocumentNotFound
}

var (
	// ErrResigned is returned by every operation that observes that the leader or
	// follower state it was called on has resigned.
	ErrResigned = NewError(RetCResigned, "replicated state resigned")

	// ErrSnapshotNotFound is returned for unknown snapshot ids
	ErrSnapshotNotFound = NewError(RetCSnapshotNotFound, "snapshot not found")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess                  RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                           // 1: Operation failed due to an internal error.
	RetCResigned                                // 2: The leader or follower resigned while the operation was running.
	RetCSnapshotNotFound                        // 3: No snapshot with the given id exists.
	RetCSnapshotFinished                        // 4: The snapshot is already finished.
	RetCSnapshotAborted                         // 5: The snapshot was aborted.
	RetCUniqueConstraintViolated                // 6: A document with the same key already exists.
	RetCDocumentNotFound                        // 7: The document does not exist.
	RetCShardNotFound                           // 8: The shard does not exist.
	RetCInvalidDocument                         // 9: The document could not be parsed or has no key.
	RetCInvalidOperation                        // 10: Invalid operation.
	RetCFatalApply                              // 11: Applying a log entry failed, the replica may diverge.
	RetCLeaderUnavailable                       // 12: The leader could not be reached.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCResigned:
		return "Resigned"
	case RetCSnapshotNotFound:
		return "SnapshotNotFound"
	case RetCSnapshotFinished:
		return "SnapshotFinished"
	case RetCSnapshotAborted:
		return "SnapshotAborted"
	case RetCUniqueConstraintViolated:
		return "UniqueConstraintViolated"
	case RetCDocumentNotFound:
		return "DocumentNotFound"
	case RetCShardNotFound:
		return "ShardNotFound"
	case RetCInvalidDocument:
		return "InvalidDocument"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCFatalApply:
		return "FatalApply"
	case RetCLeaderUnavailable:
		return "LeaderUnavailable"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
