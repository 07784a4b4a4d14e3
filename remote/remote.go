// Package remote defines the contract with the platform billing service that
// is the authority on purchases.
package remote

import (
	"context"
	"fmt"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/receipt"
)

// Code is a billing service response code.
type Code int

const (
	CodeServiceTimeout Code = iota - 3
	CodeFeatureNotSupported
	CodeServiceDisconnected
	CodeOK
	CodeUserCanceled
	CodeServiceUnavailable
	CodeBillingUnavailable
	CodeItemUnavailable
	CodeDeveloperError
	CodeError
	CodeItemAlreadyOwned
	CodeItemNotOwned
)

var codeNames = map[Code]string{
	CodeServiceTimeout:      "service_timeout",
	CodeFeatureNotSupported: "feature_not_supported",
	CodeServiceDisconnected: "service_disconnected",
	CodeOK:                  "ok",
	CodeUserCanceled:        "user_canceled",
	CodeServiceUnavailable:  "service_unavailable",
	CodeBillingUnavailable:  "billing_unavailable",
	CodeItemUnavailable:     "item_unavailable",
	CodeDeveloperError:      "developer_error",
	CodeError:               "error",
	CodeItemAlreadyOwned:    "item_already_owned",
	CodeItemNotOwned:        "item_not_owned",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// ParseCode returns the Code whose String form is name.
func ParseCode(name string) (Code, bool) {
	for c, s := range codeNames {
		if s == name {
			return c, true
		}
	}
	return 0, false
}

// Transient reports whether the call may succeed after reconnecting.
func (c Code) Transient() bool {
	switch c {
	case CodeServiceDisconnected, CodeServiceUnavailable, CodeServiceTimeout:
		return true
	default:
		return false
	}
}

// Permanent reports whether the capability is unavailable on this device.
func (c Code) Permanent() bool {
	switch c {
	case CodeBillingUnavailable, CodeFeatureNotSupported, CodeDeveloperError:
		return true
	default:
		return false
	}
}

// Result is the outcome of a billing service call.
type Result struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// OK is the successful Result.
var OK = Result{Code: CodeOK}

// Failed returns a Result with the given code and message.
func Failed(c Code, msg string) Result { return Result{Code: c, Message: msg} }

// IsOK reports whether the call succeeded.
func (r Result) IsOK() bool { return r.Code == CodeOK }

func (r Result) String() string {
	if r.Message == "" {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Message
}

// Feature names an optional billing capability.
type Feature string

// FeatureSubscriptions gates the subs product family.
const FeatureSubscriptions Feature = "subscriptions"

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

// EventKind tags the inbound notifications a source delivers.
type EventKind string

const (
	EventConnected        EventKind = "connected"
	EventDisconnected     EventKind = "disconnected"
	EventPurchasesUpdated EventKind = "purchases_updated"
	EventConsumed         EventKind = "consumed"
)

// Event is one notification from the source.
type Event struct {
	Kind     EventKind
	Result   Result
	Receipts []*receipt.Receipt
	Token    string
	Reason   string
}

// ──────────────────────────────────────────────────
// Source
// ──────────────────────────────────────────────────

// Source is the remote purchase authority. Calls block until the service
// answers. Events delivers connection changes, purchase updates and
// consumption confirmations for the lifetime of the source.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsReady() bool

	QueryCatalog(ctx context.Context, t catalog.SkuType, skus []string) ([]*catalog.SkuRecord, Result)
	QueryPurchases(ctx context.Context, t catalog.SkuType) ([]*receipt.Receipt, Result)
	Acknowledge(ctx context.Context, token string) Result
	Consume(ctx context.Context, token string) (Result, string)
	IsFeatureSupported(ctx context.Context, f Feature) Result

	Events() <-chan Event
}
