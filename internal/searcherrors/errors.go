// Package searcherrors defines the error-kind taxonomy shared by the live
// index, the distributed searcher, and the AMPC coordinator, built on
// cockroachdb/errors so callers can classify failures with errors.Is instead
// of string matching.
package searcherrors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Wrap a concrete error with one of these via Mark so that
// errors.Is(err, ErrSearchFailed) etc. keeps working after the error has
// been wrapped with additional context at each propagation boundary.
var (
	ErrEmptyQuery      = errors.New("searcherrors: empty query")
	ErrSearchFailed    = errors.New("searcherrors: search failed")
	ErrWebpageNotFound = errors.New("searcherrors: webpage not found")
	ErrIndexError      = errors.New("searcherrors: index error")
	ErrEncodingError   = errors.New("searcherrors: encoding error")
	ErrDhtError        = errors.New("searcherrors: dht error")
)

// DhtReason further classifies an ErrDhtError.
type DhtReason int

const (
	DhtReasonUnknown DhtReason = iota
	DhtReasonKeyNotFound
	DhtReasonShardUnreachable
	DhtReasonTypeMismatch
)

func (r DhtReason) String() string {
	switch r {
	case DhtReasonKeyNotFound:
		return "key-not-found"
	case DhtReasonShardUnreachable:
		return "shard-unreachable"
	case DhtReasonTypeMismatch:
		return "type-mismatch"
	default:
		return "unknown"
	}
}

// Mark wraps err and marks it as belonging to kind, so errors.Is(wrapped,
// kind) reports true while errors.Cause / %+v still surfaces err's own
// message and stack.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// NewDhtError builds a DhtError carrying reason and the given context
// message, wrapped so errors.Is(err, ErrDhtError) holds.
func NewDhtError(reason DhtReason, format string, args ...interface{}) error {
	base := errors.Newf(format, args...)
	return Mark(errors.Wrapf(base, "dht error [%s]", reason), ErrDhtError)
}

// Wrapf attaches additional context at a propagation boundary without
// losing the original error's identity for errors.Is checks.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
