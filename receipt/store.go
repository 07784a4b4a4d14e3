package receipt

import "context"

// Store is the purchase ledger, keyed by token.
type Store interface {
	// InsertReceipt fails with an already-exists error when the token is ledgered.
	InsertReceipt(ctx context.Context, r *Receipt) error
	GetReceipt(ctx context.Context, token string) (*Receipt, error)
	ListReceipts(ctx context.Context) ([]*Receipt, error)
	MarkAcknowledged(ctx context.Context, token string) error
	DeleteReceipt(ctx context.Context, token string) error
}
