package billsync

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
)

// ──────────────────────────────────────────────────
// Connection
// ──────────────────────────────────────────────────

// StartConnections re-arms the reconnect counter and connects. The outcome
// arrives as a connected event.
func (r *Reconciler) StartConnections(ctx context.Context) error {
	r.connRetry.Reset()
	return r.source.Connect(ctx)
}

// ConnectionEstablished handles a successful connection.
func (r *Reconciler) ConnectionEstablished(ctx context.Context) error {
	return r.OnConnectionEvent(ctx, remote.OK)
}

// OnConnectionEvent handles the outcome of a connection attempt. On success
// the catalog is refreshed and owned purchases are reconciled.
func (r *Reconciler) OnConnectionEvent(ctx context.Context, res remote.Result) error {
	switch {
	case res.IsOK():
		r.connRetry.Reset()
		r.billingAvailable.Store(true)
		r.logger.Debug("billing service connected")

		r.refreshCatalog(ctx)
		_, err := r.QueryPurchases(ctx)
		return err

	case res.Code == remote.CodeBillingUnavailable:
		r.billingAvailable.Store(false)
		r.logger.Warn("billing unavailable on this device", "result", res)
		r.plugins.EmitRemoteError(ctx, "connect", res)
		return remoteErr("connect", res)

	default:
		r.logger.Warn("billing service connection failed", "result", res)
		r.plugins.EmitRemoteError(ctx, "connect", res)
		if res.Code.Transient() {
			r.scheduleReconnect()
		}
		return remoteErr("connect", res)
	}
}

// ConnectionLost schedules a reconnect with exponential backoff.
func (r *Reconciler) ConnectionLost(_ context.Context, reason string) {
	r.logger.Info("billing service disconnected", "reason", reason)
	r.scheduleReconnect()
}

// refreshCatalog stores the display metadata of every known SKU and
// re-derives purchasability from the stored entitlements.
func (r *Reconciler) refreshCatalog(ctx context.Context) {
	for _, t := range catalog.Types() {
		skus := r.products.SKUs(t)
		if len(skus) == 0 {
			continue
		}
		recs, res := r.source.QueryCatalog(ctx, t, skus)
		if !res.IsOK() {
			r.logger.Warn("catalog query failed", "type", t, "result", res)
			r.plugins.EmitRemoteError(ctx, "query_catalog", res)
			continue
		}
		for _, rec := range recs {
			if err := r.store.UpsertSku(ctx, rec); err != nil {
				r.logger.Warn("failed to store sku", "sku", rec.SKU, "error", err)
			}
		}
	}

	for _, k := range r.kinds() {
		e, err := r.Entitlement(ctx, k)
		if err != nil {
			r.logger.Warn("failed to read entitlement", "kind", k, "error", err)
			continue
		}
		r.syncCatalog(ctx, e, "")
	}
	r.publishCatalogs(ctx)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

// PurchasesChanged handles a purchases-updated notification.
func (r *Reconciler) PurchasesChanged(ctx context.Context, res remote.Result, receipts []*receipt.Receipt) (*Result, error) {
	switch res.Code {
	case remote.CodeOK:
		return r.Reconcile(ctx, receipts)
	case remote.CodeItemAlreadyOwned:
		r.logger.Debug("item already owned, querying purchases")
		return r.QueryPurchases(ctx)
	case remote.CodeServiceDisconnected:
		r.ConnectionLost(ctx, res.Message)
		return &Result{}, remoteErr("purchases_updated", res)
	case remote.CodeUserCanceled:
		r.logger.Info("purchase canceled by user")
		return &Result{}, nil
	default:
		r.logger.Warn("purchase update failed", "result", res)
		r.plugins.EmitRemoteError(ctx, "purchases_updated", res)
		return &Result{}, remoteErr("purchases_updated", res)
	}
}

// ConsumeAcknowledged handles an asynchronous consumption confirmation.
// A confirmed token still in the ledger is settled once it is purchased. A
// token already settled is ignored.
func (r *Reconciler) ConsumeAcknowledged(ctx context.Context, res remote.Result, token string) error {
	if !res.IsOK() {
		r.logger.Warn("consumption failed, receipt kept", "token", token, "result", res)
		r.plugins.EmitRemoteError(ctx, "consume", res)
		return remoteErr("consume", res)
	}

	rec, err := r.store.GetReceipt(ctx, token)
	if err != nil {
		if IsNotFound(err) {
			r.logger.Debug("consumed token already settled", "token", token)
			return nil
		}
		return fmt.Errorf("billsync: get receipt %s: %w", token, err)
	}
	if !rec.Purchased() {
		r.logger.Debug("consumed token not purchased, receipt kept", "token", token, "state", rec.State)
		return nil
	}

	product, ok := r.products[rec.SKU]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, rec.SKU)
	}
	r.plugins.EmitPurchaseConsumed(ctx, rec)
	_, err = r.settle(ctx, rec, product)
	return err
}

// QueryPurchases reconciles every purchase the billing service reports as
// owned: in-app products always, subscriptions when supported. When nothing
// new came of it and the throttle allows, ledgered receipts are re-validated.
func (r *Reconciler) QueryPurchases(ctx context.Context) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "billsync.QueryPurchases")
	defer span.End()

	batch, res := r.source.QueryPurchases(ctx, catalog.TypeInApp)
	if !res.IsOK() {
		if res.Code == remote.CodeServiceDisconnected {
			r.ConnectionLost(ctx, res.Message)
		}
		r.plugins.EmitRemoteError(ctx, "query_purchases", res)
		err := remoteErr("query_purchases", res)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fres := r.source.IsFeatureSupported(ctx, remote.FeatureSubscriptions)
	switch {
	case fres.IsOK():
		subs, sres := r.source.QueryPurchases(ctx, catalog.TypeSubs)
		if sres.IsOK() {
			batch = append(batch, subs...)
		} else {
			r.logger.Warn("subscription query failed", "result", sres)
			r.plugins.EmitRemoteError(ctx, "query_purchases", sres)
		}
	case fres.Code == remote.CodeServiceDisconnected:
		r.ConnectionLost(ctx, fres.Message)
	default:
		r.logger.Debug("subscriptions not supported, skipping", "result", fres)
	}

	result, err := r.Reconcile(ctx, batch)
	if err != nil || result.NewWork() {
		return result, err
	}

	reported := make(map[string]bool, len(batch))
	for _, rec := range batch {
		reported[rec.Token] = true
	}
	if _, err := r.revalidate(ctx, false, reported); err != nil {
		r.logger.Warn("revalidation failed", "error", err)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Re-validation
// ──────────────────────────────────────────────────

// Revalidate resumes receipts left in the ledger by an interrupted or failed
// confirmation. Receipts that are not purchased are reported pending and kept.
// Unless force is set it runs at most once per dead-band.
func (r *Reconciler) Revalidate(ctx context.Context, force bool) (*Result, error) {
	return r.revalidate(ctx, force, nil)
}

// revalidate limits the pass to reported tokens when reported is non-nil.
func (r *Reconciler) revalidate(ctx context.Context, force bool, reported map[string]bool) (*Result, error) {
	if !r.revalMu.TryLock() {
		return &Result{}, nil
	}
	defer r.revalMu.Unlock()

	if !force {
		stale, err := r.throttle.Stale(ctx)
		if err != nil {
			return nil, fmt.Errorf("billsync: read throttle: %w", err)
		}
		if !stale {
			return &Result{}, nil
		}
	}

	ctx, span := r.tracer.Start(ctx, "billsync.Revalidate")
	defer span.End()

	pending, err := r.store.ListReceipts(ctx)
	if err != nil {
		return nil, fmt.Errorf("billsync: list receipts: %w", err)
	}

	res := &Result{}
	var errs MultiError
	for _, rec := range pending {
		if reported != nil && !reported[rec.Token] {
			continue
		}
		if !rec.Purchased() {
			r.logger.Debug("ledgered receipt not purchased, left for a later pass", "token", rec.Token, "state", rec.State)
			res.add(outcomePending, rec.Token)
			continue
		}
		product, ok := r.products[rec.SKU]
		if !ok {
			r.logger.Warn("ledgered receipt has unknown product", "token", rec.Token, "sku", rec.SKU)
			res.add(outcomeSkipped, rec.Token)
			continue
		}

		var o outcome
		if _, gerr := r.store.GetGrant(ctx, rec.Token); gerr == nil {
			_, err = r.settle(ctx, rec, product)
			o = outcomeSkipped
		} else {
			o, err = r.complete(ctx, rec, product)
		}
		if err != nil && o != outcomeGranted {
			o = outcomeFailed
		}
		res.add(o, rec.Token)
		errs.Add(err)
	}
	res.sort()

	if err := r.throttle.Refresh(ctx); err != nil {
		errs.Add(fmt.Errorf("billsync: refresh throttle: %w", err))
	}
	r.logger.Debug("revalidation finished",
		"granted", len(res.Granted),
		"failed", len(res.Failed),
		"forced", force,
	)

	if errs.HasErrors() {
		span.RecordError(errs)
		return res, errs
	}
	return res, nil
}
