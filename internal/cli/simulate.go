package cli

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/billsync"
	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/remote/sandbox"
	"github.com/xraph/billsync/store/memory"
)

// DefaultSettle is how long the simulator waits for follow-up source
// events after each step.
const DefaultSettle = 50 * time.Millisecond

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	Settle time.Duration
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a purchase scenario against the sandbox billing service",
		Long: `Run a scripted purchase scenario against an in-process sandbox billing
service and an in-memory store, then print the resulting entitlements,
catalog and ledger. Exits non-zero when the scenario's expectations fail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Settle, "settle", DefaultSettle, "quiet period that ends event handling after each step")

	return cmd
}

func runSimulate(ctx context.Context, rootOpts *RootOptions, opts *SimulateOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, cmd)

	scenario, err := LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil) //nolint:errcheck // best-effort output
		return WrapExitError(ExitCommandError, "load scenario", err)
	}
	formatter.VerboseLog("Loaded scenario %q with %d step(s)", scenario.Name, len(scenario.Steps))

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return WrapExitError(ExitCommandError, "generate sandbox key", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if rootOpts.Verbose {
		logger = slog.New(slog.NewTextHandler(formatter.ErrWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	report, err := RunScenario(ctx, scenario, key, opts.Settle, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "run scenario", err)
	}

	if len(report.Failures) > 0 {
		_ = formatter.Error(ErrCodeExpect, "scenario expectations failed", report) //nolint:errcheck // best-effort output
		if formatter.Format != "json" {
			fmt.Fprint(formatter.Writer, report.String())
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q: %d expectation(s) failed", scenario.Name, len(report.Failures)))
	}
	return formatter.Success(report)
}

// ──────────────────────────────────────────────────
// Runner
// ──────────────────────────────────────────────────

// Report is the final state of a simulated scenario.
type Report struct {
	Name         string                        `json:"name"`
	Steps        []StepOutcome                 `json:"steps"`
	Entitlements []EntitlementView             `json:"entitlements"`
	Catalog      map[catalog.SkuType][]SkuView `json:"catalog"`
	Ledger       int                           `json:"ledger"`
	Grants       int                           `json:"grants"`
	Calls        map[sandbox.Op]int            `json:"calls"`
	Failures     []string                      `json:"failures,omitempty"`
}

// StepOutcome records how one step ended.
type StepOutcome struct {
	Action string `json:"action"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EntitlementView is the printable state of one entitlement.
type EntitlementView struct {
	Kind        entitlement.Kind `json:"kind"`
	Entitled    bool             `json:"entitled"`
	Count       int              `json:"count"`
	MayPurchase bool             `json:"may_purchase"`
}

// SkuView is the printable state of one SKU.
type SkuView struct {
	SKU         string `json:"sku"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Purchasable bool   `json:"purchasable"`
}

// String renders the report as text.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scenario: %s\n", r.Name)

	b.WriteString("\nSteps:\n")
	for i, s := range r.Steps {
		status := "ok"
		if s.Error != "" {
			status = "error: " + s.Error
		}
		fmt.Fprintf(&b, "  %2d. %-10s %-24s %s\n", i+1, s.Action, s.Detail, status)
	}

	b.WriteString("\nEntitlements:\n")
	for _, e := range r.Entitlements {
		fmt.Fprintf(&b, "  %-13s entitled=%-5t count=%d may_purchase=%t\n", e.Kind, e.Entitled, e.Count, e.MayPurchase)
	}

	b.WriteString("\nCatalog:\n")
	for _, t := range catalog.Types() {
		for _, s := range r.Catalog[t] {
			fmt.Fprintf(&b, "  %-6s %-14s %-8s purchasable=%t\n", t, s.SKU, s.Price, s.Purchasable)
		}
	}

	fmt.Fprintf(&b, "\nLedger: %d undisbursed receipt(s)\nGrants: %d\n", r.Ledger, r.Grants)

	if len(r.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
	}
	return b.String()
}

// RunScenario plays s against a fresh sandbox and memory store. Source
// events are handled on the calling goroutine; each step ends once no event
// arrived for settle.
func RunScenario(ctx context.Context, s *Scenario, key *rsa.PrivateKey, settle time.Duration, logger *slog.Logger) (*Report, error) {
	products := s.Products
	if len(products) == 0 {
		products = catalog.DefaultProducts()
	}
	table, err := catalog.NewProducts(products)
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}

	src := sandbox.New(key, sandbox.WithProducts(table))
	st := memory.New()
	r := billsync.New(st, src,
		billsync.WithPublicKey(src.PublicKey()),
		billsync.WithProducts(products),
		billsync.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		billsync.WithRevalidateSchedule(""),
		billsync.WithLogger(logger),
	)

	report := &Report{
		Name:    s.Name,
		Catalog: make(map[catalog.SkuType][]SkuView),
		Calls:   make(map[sandbox.Op]int),
	}

	for _, step := range s.Steps {
		detail, err := applyStep(ctx, r, src, step)
		outcome := StepOutcome{Action: step.Action, Detail: detail}
		if err != nil {
			outcome.Error = err.Error()
		}
		report.Steps = append(report.Steps, outcome)
		drain(ctx, src, r, settle)
	}

	if err := collect(ctx, r, st, src, report); err != nil {
		return nil, err
	}
	report.Failures = check(s.Expect, report)
	return report, nil
}

func applyStep(ctx context.Context, r *billsync.Reconciler, src *sandbox.Sandbox, step Step) (string, error) {
	switch step.Action {
	case ActionConnect:
		return "", src.Connect(ctx)

	case ActionOwn:
		state, err := parseState(step.State)
		if err != nil {
			return "", err
		}
		rec := src.Receipt(step.Token, step.SKU, state)
		src.Own(rec)
		return rec.Token + " " + rec.SKU, nil

	case ActionBuy:
		rec := src.Buy(step.Token, step.SKU)
		return rec.Token + " " + rec.SKU, nil

	case ActionFail:
		code, _ := remote.ParseCode(step.Code)
		src.SetResult(sandbox.Op(step.Op), remote.Failed(code, "scripted"))
		return step.Op + " " + step.Code, nil

	case ActionRecover:
		src.SetResult(sandbox.Op(step.Op), remote.OK)
		return step.Op, nil

	case ActionDrop:
		reason := step.Reason
		if reason == "" {
			reason = "scripted"
		}
		src.Drop(reason)
		return reason, nil

	case ActionQuery:
		res, err := r.QueryPurchases(ctx)
		return summarize(res), err

	case ActionRevalidate:
		res, err := r.Revalidate(ctx, step.Force)
		return summarize(res), err

	case ActionUse:
		c, err := r.UseConsumable(ctx, step.Count)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("count=%d", c.Count), nil

	case ActionGrant:
		_, err := r.DevGrant(ctx, entitlement.Kind(step.Kind))
		return step.Kind, err

	case ActionRevoke:
		return step.Kind, r.DevRevoke(ctx, entitlement.Kind(step.Kind))

	default:
		return "", fmt.Errorf("unknown action %q", step.Action)
	}
}

func summarize(res *billsync.Result) string {
	if res == nil {
		return "throttled"
	}
	st := res.Stats()
	return fmt.Sprintf("granted=%d skipped=%d failed=%d", st.Granted, st.Skipped, st.Failed)
}

// drain handles source events until none arrives for settle.
func drain(ctx context.Context, src *sandbox.Sandbox, r *billsync.Reconciler, settle time.Duration) {
	timer := time.NewTimer(settle)
	defer timer.Stop()

	for {
		select {
		case ev := <-src.Events():
			r.HandleEvent(ctx, ev)
			timer.Reset(settle)
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func collect(ctx context.Context, r *billsync.Reconciler, st *memory.Store, src *sandbox.Sandbox, report *Report) error {
	for _, k := range entitlement.Kinds() {
		e, err := r.Entitlement(ctx, k)
		if err != nil {
			return err
		}
		view := EntitlementView{Kind: k, MayPurchase: e.MayPurchase()}
		row := entitlement.ToRow(e)
		view.Entitled = row.Entitled
		view.Count = row.Count
		report.Entitlements = append(report.Entitlements, view)
	}

	for _, t := range catalog.Types() {
		recs, err := r.Catalog(ctx, t)
		if err != nil {
			return err
		}
		views := make([]SkuView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, SkuView{SKU: rec.SKU, Title: rec.Title, Price: rec.Price, Purchasable: rec.Purchasable})
		}
		report.Catalog[t] = views
	}

	receipts, err := st.ListReceipts(ctx)
	if err != nil {
		return err
	}
	report.Ledger = len(receipts)

	grants, err := st.ListGrants(ctx)
	if err != nil {
		return err
	}
	report.Grants = len(grants)

	for _, op := range []sandbox.Op{
		sandbox.OpConnect, sandbox.OpQueryCatalog, sandbox.OpQueryPurchases,
		sandbox.OpAcknowledge, sandbox.OpConsume, sandbox.OpFeature,
	} {
		report.Calls[op] = src.CallCount(op)
	}
	return nil
}

func check(exp *Expectation, report *Report) []string {
	if exp == nil {
		return nil
	}

	var failures []string
	byKind := make(map[entitlement.Kind]EntitlementView, len(report.Entitlements))
	for _, e := range report.Entitlements {
		byKind[e.Kind] = e
	}

	for _, k := range entitlement.Kinds() {
		want, ok := exp.Entitlements[k]
		if !ok {
			continue
		}
		got := byKind[k]
		if want.Entitled != nil && *want.Entitled != got.Entitled {
			failures = append(failures, fmt.Sprintf("%s: expected entitled=%t, got %t", k, *want.Entitled, got.Entitled))
		}
		if want.Count != nil && *want.Count != got.Count {
			failures = append(failures, fmt.Sprintf("%s: expected count=%d, got %d", k, *want.Count, got.Count))
		}
		if want.MayPurchase != nil && *want.MayPurchase != got.MayPurchase {
			failures = append(failures, fmt.Sprintf("%s: expected may_purchase=%t, got %t", k, *want.MayPurchase, got.MayPurchase))
		}
	}

	if exp.Ledger != nil && *exp.Ledger != report.Ledger {
		failures = append(failures, fmt.Sprintf("ledger: expected %d, got %d", *exp.Ledger, report.Ledger))
	}
	if exp.Grants != nil && *exp.Grants != report.Grants {
		failures = append(failures, fmt.Sprintf("grants: expected %d, got %d", *exp.Grants, report.Grants))
	}
	return failures
}
