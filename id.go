package billsync

import "github.com/xraph/billsync/id"

// ID is the identifier type for receipts, grants and reconcile runs.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
