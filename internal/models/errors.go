package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is the storage-gateway miss sentinel. A miss is a normal
// condition, not a pipeline failure, so it sits outside the ErrorKind
// taxonomy; callers branch with errors.Is.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is a storage miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrorKind is the closed taxonomy every pipeline failure maps onto.
// The kind decides whether an item is retried, skipped, or failed outright.
type ErrorKind string

const (
	ErrKindNetwork             ErrorKind = "NETWORK"
	ErrKindScraperFailed       ErrorKind = "SCRAPER_FAILED"
	ErrKindParseFailed         ErrorKind = "PARSE_FAILED"
	ErrKindBlocked             ErrorKind = "BLOCKED"
	ErrKindLLMFailed           ErrorKind = "LLM_FAILED"
	ErrKindRateLimited         ErrorKind = "RATE_LIMITED"
	ErrKindStorageTransient    ErrorKind = "STORAGE_TRANSIENT"
	ErrKindStoragePrecondition ErrorKind = "STORAGE_PRECONDITION"
	ErrKindStopListed          ErrorKind = "STOP_LISTED"
	ErrKindDuplicate           ErrorKind = "DUPLICATE"
	ErrKindBelowThreshold      ErrorKind = "BELOW_THRESHOLD"
	ErrKindConfigUnavailable   ErrorKind = "CONFIG_UNAVAILABLE"
	ErrKindInternal            ErrorKind = "INTERNAL"
)

// IsSkipReason reports whether the kind terminates an item as SKIPPED
// rather than entering the retry path.
func (k ErrorKind) IsSkipReason() bool {
	switch k {
	case ErrKindStopListed, ErrKindDuplicate, ErrKindBelowThreshold:
		return true
	}
	return false
}

// IsRetryable reports whether a failure of this kind should be released
// back to the queue. STORAGE_PRECONDITION indicates a programming or
// data-model error and fails the item immediately; skip reasons never retry.
func (k ErrorKind) IsRetryable() bool {
	if k.IsSkipReason() || k == ErrKindStoragePrecondition {
		return false
	}
	return true
}

// KindError pairs an ErrorKind with its underlying cause so failures can
// cross service boundaries without losing their classification.
type KindError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// NewKindError builds a classified error
func NewKindError(kind ErrorKind, message string, err error) *KindError {
	return &KindError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// INTERNAL for unclassified errors and returning empty for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if ke, ok := e.(*KindError); ok {
			return ke.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return ErrKindInternal
}
