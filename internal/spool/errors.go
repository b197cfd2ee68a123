package spool

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes segment store failures.
type ErrorCode string

const (
	// ErrCodeCollision: same segment id, different content. Never auto-resolved.
	ErrCodeCollision ErrorCode = "SPOOL_COLLISION"

	// ErrCodeCorrupt: an existing entry could not be parsed. Never repaired.
	ErrCodeCorrupt ErrorCode = "SPOOL_CORRUPT"

	// ErrCodeWriteFailed: a capture attempt could not durably record its
	// segment. Safe to retry the whole capture.
	ErrCodeWriteFailed ErrorCode = "SPOOL_WRITE_FAILED"

	// ErrCodeIO: the filesystem rejected a read or write.
	ErrCodeIO ErrorCode = "SPOOL_IO"
)

// ErrInvalidID is returned for segment ids that cannot name a file safely.
var ErrInvalidID = errors.New("spool: invalid segment id")

// Error is the typed failure returned by the segment store.
// Path is always set when a file on disk is involved, so an operator can
// go straight to the offending entry.
type Error struct {
	Code      ErrorCode
	SegmentID string
	Path      string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (segment=%s", e.Code, e.Message, e.SegmentID)
	if e.Path != "" {
		msg += ", path=" + e.Path
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewCollisionError reports a conflicting double-write.
func NewCollisionError(segmentID, path string) *Error {
	return &Error{
		Code:      ErrCodeCollision,
		SegmentID: segmentID,
		Path:      path,
		Message:   "segment already exists with different content",
	}
}

// NewCorruptError reports an existing entry that failed to parse.
func NewCorruptError(segmentID, path string, cause error) *Error {
	return &Error{
		Code:      ErrCodeCorrupt,
		SegmentID: segmentID,
		Path:      path,
		Message:   "existing segment is unreadable",
		Err:       cause,
	}
}

// NewWriteFailedError reports a capture whose segment could not be recorded.
func NewWriteFailedError(segmentID string, cause error) *Error {
	return &Error{
		Code:      ErrCodeWriteFailed,
		SegmentID: segmentID,
		Message:   "segment store did not record segment",
		Err:       cause,
	}
}

func newIOError(segmentID, path, op string, cause error) *Error {
	return &Error{
		Code:      ErrCodeIO,
		SegmentID: segmentID,
		Path:      path,
		Message:   op,
		Err:       cause,
	}
}

// IsCollision reports whether err, or any store error it wraps, is a collision.
func IsCollision(err error) bool {
	return hasCode(err, ErrCodeCollision)
}

// IsCorrupt reports whether err, or any store error it wraps, is a corruption.
func IsCorrupt(err error) bool {
	return hasCode(err, ErrCodeCorrupt)
}

// IsWriteFailed reports whether err is a failed capture write.
func IsWriteFailed(err error) bool {
	return hasCode(err, ErrCodeWriteFailed)
}

// hasCode walks the whole chain; errors.As alone would stop at the outermost
// *Error, which for a capture failure is the WRITE_FAILED wrapper.
func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *Error
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}
