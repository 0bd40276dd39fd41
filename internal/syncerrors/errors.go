package syncerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a sync failure so the scheduler can pick the right
// reaction: retry, token refresh, skip-and-continue, or give up.
type Kind string

const (
	// KindConnection is a transient network or protocol failure.
	// Retried on the next scheduled tick, cursor unchanged.
	KindConnection Kind = "connection_error"
	// KindAuth means the credential or token was rejected.
	KindAuth Kind = "auth_error"
	// KindParse means a single message failed to parse and was skipped.
	KindParse Kind = "parse_error"
	// KindPersistence means a storage write failed and rolled back.
	KindPersistence Kind = "persistence_error"
	// KindDecryption means a stored credential is corrupt or the vault
	// key changed. Fatal for the account until re-entered by a human.
	KindDecryption Kind = "decryption_error"
)

type SyncError struct {
	Kind  Kind
	cause error
	msg   string
}

func (e *SyncError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
	}
	return e.msg
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

func New(kind Kind, msg string) *SyncError {
	return &SyncError{Kind: kind, msg: msg}
}

func Wrap(kind Kind, err error, msg string) *SyncError {
	return &SyncError{Kind: kind, cause: err, msg: msg}
}

func Connection(err error, msg string) *SyncError {
	return Wrap(KindConnection, err, msg)
}

func Auth(err error, msg string) *SyncError {
	return Wrap(KindAuth, err, msg)
}

func Parse(err error, msg string) *SyncError {
	return Wrap(KindParse, err, msg)
}

func Persistence(err error, msg string) *SyncError {
	return Wrap(KindPersistence, err, msg)
}

func Decryption(err error, msg string) *SyncError {
	return Wrap(KindDecryption, err, msg)
}

// KindOf returns the classification of err, or KindConnection when err
// carries no SyncError anywhere in its chain. Unclassified failures
// are treated as transient so they keep getting retried.
func KindOf(err error) Kind {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}
	return KindConnection
}

func IsKind(err error, kind Kind) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind == kind
	}
	return false
}
