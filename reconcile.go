package billsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/grant"
	"github.com/xraph/billsync/id"
	"github.com/xraph/billsync/plugin"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// Result lists the tokens of a batch by outcome.
type Result struct {
	RunID    id.RunID
	Granted  []string
	Skipped  []string
	Pending  []string
	Rejected []string
	Failed   []string
}

// Stats returns the outcome counts.
func (res *Result) Stats() plugin.ReconcileStats {
	return plugin.ReconcileStats{
		Received: len(res.Granted) + len(res.Skipped) + len(res.Pending) + len(res.Rejected) + len(res.Failed),
		Granted:  len(res.Granted),
		Skipped:  len(res.Skipped),
		Pending:  len(res.Pending),
		Rejected: len(res.Rejected),
		Failed:   len(res.Failed),
	}
}

// NewWork reports whether the batch disbursed or failed anything.
func (res *Result) NewWork() bool {
	return len(res.Granted) > 0 || len(res.Failed) > 0
}

func (res *Result) add(o outcome, token string) {
	switch o {
	case outcomeGranted:
		res.Granted = append(res.Granted, token)
	case outcomePending:
		res.Pending = append(res.Pending, token)
	case outcomeRejected:
		res.Rejected = append(res.Rejected, token)
	case outcomeFailed:
		res.Failed = append(res.Failed, token)
	default:
		res.Skipped = append(res.Skipped, token)
	}
}

func (res *Result) sort() {
	slices.Sort(res.Granted)
	slices.Sort(res.Skipped)
	slices.Sort(res.Pending)
	slices.Sort(res.Rejected)
	slices.Sort(res.Failed)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeGranted
	outcomePending
	outcomeRejected
	outcomeFailed
)

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// Reconcile processes a batch of receipts reported by the billing service.
// It is idempotent: replaying a batch never disburses a token twice.
// Storage failures are returned as a MultiError next to the partial Result.
func (r *Reconciler) Reconcile(ctx context.Context, batch []*receipt.Receipt) (*Result, error) {
	res := &Result{RunID: id.NewRunID()}
	ctx, span := r.tracer.Start(ctx, "billsync.Reconcile",
		trace.WithAttributes(
			attribute.String("billsync.run_id", res.RunID.String()),
			attribute.Int("billsync.batch_size", len(batch)),
		),
	)
	defer span.End()

	start := r.now()

	var (
		mu   sync.Mutex
		errs MultiError
		g    errgroup.Group
	)
	g.SetLimit(r.concurrency)

	for _, rec := range batch {
		if rec == nil {
			continue
		}
		g.Go(func() error {
			o, err := r.processReceipt(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			res.add(o, rec.Token)
			errs.Add(err)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers collect errors in errs
	res.sort()

	stats := res.Stats()
	span.SetAttributes(
		attribute.Int("billsync.granted", stats.Granted),
		attribute.Int("billsync.failed", stats.Failed),
	)
	r.plugins.EmitReconcileCompleted(ctx, stats, r.now().Sub(start))

	if errs.HasErrors() {
		span.RecordError(errs)
		span.SetStatus(codes.Error, errs.Error())
		return res, errs
	}
	return res, nil
}

func (r *Reconciler) processReceipt(ctx context.Context, rec *receipt.Receipt) (outcome, error) {
	log := r.logger.With("token", rec.Token, "sku", rec.SKU)

	switch rec.State {
	case receipt.StatePurchased:
	case receipt.StatePending:
		log.Info("purchase pending, skipping")
		r.plugins.EmitReceiptPending(ctx, rec)
		return outcomePending, nil
	default:
		log.Debug("purchase state unspecified, skipping", "state", rec.State)
		return outcomeSkipped, nil
	}

	if rec.Token == "" {
		r.reject(ctx, rec, ValidationError{Field: "token", Message: "must not be empty"})
		return outcomeRejected, nil
	}

	// In flight or already settled
	if _, err := r.store.GetReceipt(ctx, rec.Token); err == nil {
		return outcomeSkipped, nil
	} else if !IsNotFound(err) {
		return outcomeFailed, fmt.Errorf("billsync: get receipt %s: %w", rec.Token, err)
	}
	if _, err := r.store.GetGrant(ctx, rec.Token); err == nil {
		return outcomeSkipped, nil
	} else if !IsNotFound(err) {
		return outcomeFailed, fmt.Errorf("billsync: get grant %s: %w", rec.Token, err)
	}

	if !r.verifier.Verify(rec.Payload, rec.Signature) {
		r.reject(ctx, rec, ErrInvalidSignature)
		return outcomeRejected, nil
	}
	if err := r.plugins.ValidateReceipt(ctx, rec); err != nil {
		r.reject(ctx, rec, err)
		return outcomeRejected, nil
	}
	product, ok := r.products[rec.SKU]
	if !ok {
		log.Warn("purchase of unknown product dropped")
		r.plugins.EmitReceiptRejected(ctx, rec, ErrUnknownProduct)
		return outcomeRejected, nil
	}

	stored := *rec
	stored.ID = id.NewReceiptID()
	stored.ObservedAt = r.now()
	if err := r.store.InsertReceipt(ctx, &stored); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("billsync: ledger receipt %s: %w", rec.Token, err)
	}

	return r.complete(ctx, &stored, product)
}

func (r *Reconciler) reject(ctx context.Context, rec *receipt.Receipt, reason error) {
	r.logger.Debug("receipt rejected", "token", rec.Token, "sku", rec.SKU, "reason", reason)
	r.plugins.EmitReceiptRejected(ctx, rec, reason)
}

// complete confirms a ledgered receipt with the billing service and settles it.
func (r *Reconciler) complete(ctx context.Context, rec *receipt.Receipt, product catalog.Product) (outcome, error) {
	switch {
	case product.Consumable():
		err := r.call(ctx, "consume", rec.Token, func(ctx context.Context) remote.Result {
			res, _ := r.source.Consume(ctx, rec.Token)
			return res
		})
		if err != nil {
			return outcomeFailed, nil
		}
		r.plugins.EmitPurchaseConsumed(ctx, rec)

	case !rec.Acknowledged:
		err := r.call(ctx, "acknowledge", rec.Token, func(ctx context.Context) remote.Result {
			return r.source.Acknowledge(ctx, rec.Token)
		})
		if err != nil {
			return outcomeFailed, nil
		}
		if err := r.store.MarkAcknowledged(ctx, rec.Token); err != nil && !IsNotFound(err) {
			return outcomeFailed, fmt.Errorf("billsync: mark acknowledged %s: %w", rec.Token, err)
		}
		rec.Acknowledged = true
		r.plugins.EmitPurchaseAcknowledged(ctx, rec)
	}

	granted, err := r.settle(ctx, rec, product)
	if granted {
		return outcomeGranted, err
	}
	if err != nil {
		return outcomeFailed, err
	}
	return outcomeSkipped, nil
}

// call runs one remote operation under TaskRetry. A non-OK answer is
// logged, reported to plugins and returned as a *RemoteError.
func (r *Reconciler) call(ctx context.Context, op, token string, fn func(context.Context) remote.Result) error {
	ctx, span := r.tracer.Start(ctx, "billsync.remote."+op,
		trace.WithAttributes(attribute.String("billsync.token", token)),
	)
	defer span.End()

	err := r.taskRetry.Run(ctx, r.source, func(ctx context.Context) error {
		return remoteErr(op, fn(ctx))
	})
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Warn("remote call failed, receipt kept for revalidation",
		"op", op,
		"token", token,
		"error", err,
	)

	var re *RemoteError
	switch {
	case errors.As(err, &re):
		r.plugins.EmitRemoteError(ctx, op, remote.Failed(re.Code, re.Message))
	case errors.Is(err, ErrNotReady):
		r.plugins.EmitRemoteError(ctx, op, remote.Failed(remote.CodeServiceDisconnected, err.Error()))
	}
	return err
}

// settle disburses a confirmed receipt inside the critical section of its
// kind and removes it from the ledger. A token found in the journal is only
// removed from the ledger.
func (r *Reconciler) settle(ctx context.Context, rec *receipt.Receipt, product catalog.Product) (bool, error) {
	lock := r.kindLocks[product.Kind]
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.store.GetGrant(ctx, rec.Token); err == nil {
		return false, r.forget(ctx, rec.Token)
	} else if !IsNotFound(err) {
		return false, fmt.Errorf("billsync: get grant %s: %w", rec.Token, err)
	}

	g := &grant.Grant{
		ID:        id.NewGrantID(),
		Token:     rec.Token,
		SKU:       rec.SKU,
		Kind:      product.Kind,
		Delta:     1,
		GrantedAt: r.now(),
	}
	if product.Consumable() {
		g.Delta = product.UnitsPerPurchase() * rec.Units()
	}
	// The journal row and the entitlement change commit together. On failure
	// the receipt stays in the ledger for the next revalidation.
	e, err := r.store.Disburse(ctx, g)
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return false, r.forget(ctx, rec.Token)
		}
		return false, fmt.Errorf("billsync: disburse %s: %w", rec.Token, err)
	}

	r.syncCatalog(ctx, e, rec.SKU)
	err = r.forget(ctx, rec.Token)

	r.logger.Info("entitlement granted",
		"token", rec.Token,
		"sku", rec.SKU,
		"kind", product.Kind,
		"delta", g.Delta,
	)
	r.plugins.EmitEntitlementGranted(ctx, g, e)

	return true, err
}

func (r *Reconciler) forget(ctx context.Context, token string) error {
	if err := r.store.DeleteReceipt(ctx, token); err != nil {
		return fmt.Errorf("billsync: delete receipt %s: %w", token, err)
	}
	return nil
}

// updateConsumableAsset applies delta to the consumable balance. The caller
// holds the consumable lock.
func (r *Reconciler) updateConsumableAsset(ctx context.Context, delta int) (*entitlement.ConsumableAsset, error) {
	return r.store.AdjustConsumable(ctx, delta)
}

// syncCatalog mirrors MayPurchase of e onto the SKUs that disburse its kind
// and publishes the new state. When a subscription was bought through sku,
// the other subscription SKUs take the opposite flag.
func (r *Reconciler) syncCatalog(ctx context.Context, e entitlement.Entitlement, sku string) {
	may := e.MayPurchase()
	for _, s := range r.products.OfKind(e.Kind()) {
		purchasable := may
		if e.Kind() == entitlement.KindSubscription && sku != "" && s != sku {
			purchasable = !may
		}
		if err := r.store.SetPurchasable(ctx, s, r.products[s].Type, purchasable); err != nil {
			r.logger.Warn("failed to update sku purchasability", "sku", s, "error", err)
		}
	}

	r.entitlements[e.Kind()].Publish(entitlement.Clone(e))
	r.publishCatalogs(ctx)
}
