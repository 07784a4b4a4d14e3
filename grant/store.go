package grant

import (
	"context"

	"github.com/xraph/billsync/entitlement"
)

// Store is the append-only grant journal, unique on token.
type Store interface {
	// Disburse journals g and applies it to the entitlement of its kind as
	// one unit, returning the updated entitlement. It fails with an
	// already-exists error and changes nothing when the token is journaled.
	Disburse(ctx context.Context, g *Grant) (entitlement.Entitlement, error)
	GetGrant(ctx context.Context, token string) (*Grant, error)
	ListGrants(ctx context.Context) ([]*Grant, error)
}
