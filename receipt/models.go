// Package receipt defines proof-of-purchase records and the ledger that holds
// them between first observation and disbursement.
package receipt

import (
	"time"

	"github.com/xraph/billsync/id"
)

// State is the purchase state reported by the remote authority.
type State string

const (
	StateUnspecified State = "unspecified"
	StatePurchased   State = "purchased"
	StatePending     State = "pending"
)

// Receipt is a purchase as reported by the remote authority. Token is unique.
type Receipt struct {
	ID           id.ReceiptID `json:"id"`
	Token        string       `json:"token"`
	SKU          string       `json:"sku"`
	OrderID      string       `json:"order_id,omitempty"`
	Payload      []byte       `json:"payload"`
	Signature    string       `json:"signature"`
	State        State        `json:"state"`
	Quantity     int          `json:"quantity"`
	Acknowledged bool         `json:"acknowledged"`
	PurchasedAt  time.Time    `json:"purchased_at"`
	ObservedAt   time.Time    `json:"observed_at"`
}

// Units returns the purchased quantity, at least one.
func (r *Receipt) Units() int {
	if r.Quantity < 1 {
		return 1
	}
	return r.Quantity
}

// Purchased reports whether the receipt is in a disbursable state.
func (r *Receipt) Purchased() bool { return r.State == StatePurchased }

// Pending reports whether payment has not completed yet.
func (r *Receipt) Pending() bool { return r.State == StatePending }
