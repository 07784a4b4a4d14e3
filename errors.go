package billsync

import (
	"errors"
	"fmt"

	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/retry"
	"github.com/xraph/billsync/settings"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("billsync: not found")
	ErrAlreadyExists = errors.New("billsync: already exists")
	ErrInvalidInput  = errors.New("billsync: invalid input")

	// Entitlement errors
	ErrEntitlementNotFound = errors.New("billsync: entitlement not found")
	ErrInsufficientBalance = errors.New("billsync: insufficient consumable balance")

	// Ledger and journal errors
	ErrReceiptNotFound  = errors.New("billsync: receipt not found")
	ErrGrantNotFound    = errors.New("billsync: grant not found")
	ErrInvalidSignature = errors.New("billsync: invalid receipt signature")
	ErrUnknownProduct   = errors.New("billsync: unknown product")

	// Catalog errors
	ErrSkuNotFound = errors.New("billsync: sku not found")

	// Settings errors
	ErrSettingNotFound = settings.ErrNotFound

	// Remote errors
	ErrRemote              = errors.New("billsync: remote call failed")
	ErrBillingUnavailable  = errors.New("billsync: billing unavailable")
	ErrFeatureNotSupported = errors.New("billsync: feature not supported")
	ErrNotReady            = retry.ErrNotReady

	// Engine errors
	ErrNotStarted     = errors.New("billsync: reconciler not started")
	ErrAlreadyStarted = errors.New("billsync: reconciler already started")

	// Store errors
	ErrStoreClosed     = errors.New("billsync: store is closed")
	ErrMigrationFailed = errors.New("billsync: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("billsync: validation failed for %s: %s", e.Field, e.Message)
}

// RemoteError is a non-OK answer from the billing service.
type RemoteError struct {
	Op      string
	Code    remote.Code
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("billsync: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("billsync: %s: %s: %s", e.Op, e.Code, e.Message)
}

// Unwrap lets errors.Is match ErrRemote and the permanent capability errors.
func (e *RemoteError) Unwrap() []error {
	errs := []error{ErrRemote}
	switch e.Code {
	case remote.CodeBillingUnavailable:
		errs = append(errs, ErrBillingUnavailable)
	case remote.CodeFeatureNotSupported:
		errs = append(errs, ErrFeatureNotSupported)
	}
	return errs
}

// remoteErr converts a non-OK result into a *RemoteError, or nil.
func remoteErr(op string, res remote.Result) error {
	if res.IsOK() {
		return nil
	}
	return &RemoteError{Op: op, Code: res.Code, Message: res.Message}
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "billsync: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("billsync: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEntitlementNotFound) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrGrantNotFound) ||
		errors.Is(err, ErrSkuNotFound) ||
		errors.Is(err, ErrSettingNotFound)
}

// IsRemote returns true if the billing service rejected the call.
func IsRemote(err error) bool {
	return errors.Is(err, ErrRemote)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrNotReady) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code.Transient()
	}
	return false
}
