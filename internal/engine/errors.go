package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hubd/internal/message"
	"github.com/roach88/hubd/internal/store"
)

// ErrNotFound is returned by single-record reads when nothing is stored.
var ErrNotFound = store.ErrNotFound

// HubError represents a merge or prune that failed.
//
// A HubError is permanent for the input that caused it: validation and
// authority failures are never retried by the engine, and a storage failure
// means the transaction rolled back without a trace.
type HubError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Fid identifies the affected account, if known.
	Fid message.Fid

	// Hash is the hex hash of the offending message, if any.
	Hash string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes hub errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed or out-of-bounds input.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeAuthority indicates the signer is not in the fid's signer chain
	// (or the fid has no custody event yet).
	ErrCodeAuthority ErrorCode = "AUTHORITY"

	// ErrCodeStorage indicates the underlying store failed.
	ErrCodeStorage ErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *HubError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Fid != 0 {
		msg = fmt.Sprintf("%s (fid=%d)", msg, e.Fid)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *HubError) Unwrap() error { return e.Err }

// IsValidationError returns true if err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsAuthorityError returns true if err is an authority failure.
func IsAuthorityError(err error) bool {
	return hasCode(err, ErrCodeAuthority)
}

// IsStorageError returns true if err is a storage failure.
func IsStorageError(err error) bool {
	return hasCode(err, ErrCodeStorage)
}

// IsMissingCustody reports whether err is an authority failure caused by
// the fid having no custody event.
func IsMissingCustody(err error) bool {
	var he *HubError
	return errors.As(err, &he) && he.Code == ErrCodeAuthority && errors.Is(he.Err, errNoCustody)
}

func hasCode(err error, code ErrorCode) bool {
	var he *HubError
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

var (
	errNoCustody    = errors.New("no custody event")
	errUnauthorized = errors.New("signer not in signer chain")
	errGrantCycle   = errors.New("signer grant would not be rooted at a custody key")
	errBadSignature = errors.New("signature does not verify")
)

func validationError(m *message.Message, err error) *HubError {
	he := &HubError{Code: ErrCodeValidation, Message: "invalid message", Err: err}
	if m != nil {
		he.Fid = m.Fid()
		he.Hash = m.HashHex()
	}
	return he
}

func authorityError(m *message.Message, err error) *HubError {
	return &HubError{
		Code:    ErrCodeAuthority,
		Message: "unauthorized signer",
		Fid:     m.Fid(),
		Hash:    m.HashHex(),
		Err:     err,
	}
}

func storageError(fid message.Fid, op string, err error) *HubError {
	return &HubError{Code: ErrCodeStorage, Message: op, Fid: fid, Err: err}
}
