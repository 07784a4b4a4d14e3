package billsync_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/remote/sandbox"
	"github.com/xraph/billsync/retry"
	"github.com/xraph/billsync/store/memory"
)

// TestDocumentationExamples verifies that the package documentation examples work.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()
		source := sandbox.New(signingKey(t))

		r := billsync.New(store, source,
			billsync.WithLogger(slog.Default()),
			billsync.WithPublicKey(source.PublicKey()),
			billsync.WithRetryConfig(retry.Config{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, TaskDelay: 10 * time.Millisecond}),
			billsync.WithRevalidateSchedule("@every 1h"),
		)

		ctx := context.Background()
		if err := r.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer r.Stop() //nolint:errcheck // example cleanup

		ch, cancel := r.WatchEntitlement(billsync.KindConsumable)
		defer cancel()

		source.Buy("", catalog.SKUCoin)
		source.Buy("", catalog.SKUCoin)

		deadline := time.After(5 * time.Second)
		for {
			select {
			case e := <-ch:
				if e.(*entitlement.ConsumableAsset).Count == 2 {
					if _, err := r.UseConsumable(ctx, 1); err != nil {
						t.Fatal(err)
					}
					return
				}
			case <-deadline:
				t.Fatal("timed out waiting for coins")
			}
		}
	})

	t.Run("ReconcileExample", func(t *testing.T) {
		source := sandbox.New(signingKey(t))
		r := billsync.New(memory.New(), source, billsync.WithPublicKey(source.PublicKey()))
		ctx := context.Background()
		_ = source.Connect(ctx) //nolint:errcheck // sandbox connect never fails

		receipts := []*billsync.Receipt{source.Receipt("tok", catalog.SKUOneTime, "purchased")}
		source.Own(receipts...)

		res, err := r.Reconcile(ctx, receipts)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Granted) != 1 {
			t.Errorf("expected 1 granted, got %d", len(res.Granted))
		}
	})
}
