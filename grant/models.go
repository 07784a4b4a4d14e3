// Package grant defines the disbursement journal. A journal row is written
// before an entitlement is mutated, so a token is disbursed at most once even
// when the ledger entry outlives a crash.
package grant

import (
	"time"

	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/id"
)

// Grant records that the purchase behind Token was disbursed.
type Grant struct {
	ID        id.GrantID       `json:"id"`
	Token     string           `json:"token"`
	SKU       string           `json:"sku"`
	Kind      entitlement.Kind `json:"kind"`
	Delta     int              `json:"delta"`
	GrantedAt time.Time        `json:"granted_at"`
}
