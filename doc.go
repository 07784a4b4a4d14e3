// Package billsync reconciles purchases reported by a platform billing
// service with a local entitlement cache.
//
// billsync is designed as a library, not a service. A Reconciler consumes
// purchase receipts from a remote.Source, verifies their signatures,
// confirms them with the billing service and disburses each purchase token
// exactly once. It provides:
//
//   - One-time, subscription and consumable entitlements with a bounded balance
//   - A purchase ledger that holds receipts until they are confirmed
//   - A grant journal that prevents double disbursement across crashes
//   - Exponential reconnect backoff and a grace period for remote calls
//   - Throttled background re-validation of unconfirmed receipts
//   - Memory, SQLite, PostgreSQL and MongoDB stores
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/billsync"
//	    "github.com/xraph/billsync/store/memory"
//	)
//
//	r := billsync.New(memory.New(), source,
//	    billsync.WithPublicKey(publicKey),
//	)
//	if err := r.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Stop()
//
// # Receipts
//
// Receipts arrive through the source's event channel or through the
// exported entry points (PurchasesChanged, QueryPurchases). Pending
// purchases are skipped until they complete. Receipts with an invalid
// signature are dropped and never retried. Valid receipts are written to the
// ledger before any remote side effect:
//
//	res, err := r.Reconcile(ctx, receipts)
//	for _, token := range res.Granted {
//	    // disbursed
//	}
//
// # Entitlements
//
// Read the current state, or subscribe to changes:
//
//	ch, cancel := r.WatchEntitlement(billsync.KindConsumable)
//	defer cancel()
//	for e := range ch {
//	    coins := e.(*entitlement.ConsumableAsset).Count
//	}
//
// A consumable product can be bought again while the balance is below
// MaxConsumable. Spend units with UseConsumable.
//
// # Integration
//
// billsync integrates with the Forge ecosystem through the extension
// package, and exposes lifecycle hooks through the plugin package for
// metrics (observability) and audit trails (audit_hook).
package billsync
