package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/billsync/catalog"
	"github.com/xraph/billsync/entitlement"
	"github.com/xraph/billsync/receipt"
	"github.com/xraph/billsync/remote"
	"github.com/xraph/billsync/remote/sandbox"
)

// Scenario is a scripted run of the reconciler against the sandbox source.
type Scenario struct {
	// Name identifies the scenario in output.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Products replaces the default product table when non-empty.
	Products []catalog.Product `yaml:"products,omitempty"`

	// Steps run in order. Source events raised by a step are handled
	// before the next step starts.
	Steps []Step `yaml:"steps"`

	// Expect is checked against the final state.
	Expect *Expectation `yaml:"expect,omitempty"`
}

// Step is one scripted action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	Token string `yaml:"token,omitempty"`
	SKU   string `yaml:"sku,omitempty"`

	// State is the receipt state for "own" (default: purchased).
	State string `yaml:"state,omitempty"`

	// Op and Code script a sandbox result for "fail".
	Op   string `yaml:"op,omitempty"`
	Code string `yaml:"code,omitempty"`

	// Kind names the entitlement for "grant" and "revoke".
	Kind string `yaml:"kind,omitempty"`

	// Count is the number of units for "use".
	Count int `yaml:"count,omitempty"`

	// Force bypasses the dead-band for "revalidate".
	Force bool `yaml:"force,omitempty"`

	// Reason is the disconnect reason for "drop".
	Reason string `yaml:"reason,omitempty"`
}

// Step actions.
const (
	ActionConnect    = "connect"
	ActionOwn        = "own"
	ActionBuy        = "buy"
	ActionFail       = "fail"
	ActionRecover    = "recover"
	ActionDrop       = "drop"
	ActionQuery      = "query"
	ActionRevalidate = "revalidate"
	ActionUse        = "use"
	ActionGrant      = "grant"
	ActionRevoke     = "revoke"
)

var validActions = map[string]bool{
	ActionConnect:    true,
	ActionOwn:        true,
	ActionBuy:        true,
	ActionFail:       true,
	ActionRecover:    true,
	ActionDrop:       true,
	ActionQuery:      true,
	ActionRevalidate: true,
	ActionUse:        true,
	ActionGrant:      true,
	ActionRevoke:     true,
}

var validOps = map[string]bool{
	string(sandbox.OpConnect):        true,
	string(sandbox.OpQueryCatalog):   true,
	string(sandbox.OpQueryPurchases): true,
	string(sandbox.OpAcknowledge):    true,
	string(sandbox.OpConsume):        true,
	string(sandbox.OpFeature):        true,
}

// Expectation describes the final state a scenario must reach.
type Expectation struct {
	Entitlements map[entitlement.Kind]ExpectEntitlement `yaml:"entitlements,omitempty"`

	// Ledger is the expected number of undisbursed receipts.
	Ledger *int `yaml:"ledger,omitempty"`

	// Grants is the expected number of journaled disbursements.
	Grants *int `yaml:"grants,omitempty"`
}

// ExpectEntitlement matches one entitlement. Nil fields are not checked.
type ExpectEntitlement struct {
	Entitled    *bool `yaml:"entitled,omitempty"`
	Count       *int  `yaml:"count,omitempty"`
	MayPurchase *bool `yaml:"may_purchase,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(bytes.NewReader(data))
}

// ParseScenario decodes a scenario, rejecting unknown fields.
func ParseScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Products) > 0 {
		if _, err := catalog.NewProducts(s.Products); err != nil {
			return fmt.Errorf("products: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if s.Expect != nil {
		for k := range s.Expect.Entitlements {
			if !k.Valid() {
				return fmt.Errorf("expect: %w: %q", entitlement.ErrUnknownKind, k)
			}
		}
	}
	return nil
}

func validateStep(step Step) error {
	if !validActions[step.Action] {
		return fmt.Errorf("unknown action %q", step.Action)
	}

	switch step.Action {
	case ActionOwn, ActionBuy:
		if step.SKU == "" {
			return fmt.Errorf("%s: sku is required", step.Action)
		}
		if step.State != "" {
			if _, err := parseState(step.State); err != nil {
				return err
			}
		}
	case ActionFail:
		if !validOps[step.Op] {
			return fmt.Errorf("fail: unknown op %q", step.Op)
		}
		if _, ok := remote.ParseCode(step.Code); !ok {
			return fmt.Errorf("fail: unknown code %q", step.Code)
		}
	case ActionRecover:
		if !validOps[step.Op] {
			return fmt.Errorf("recover: unknown op %q", step.Op)
		}
	case ActionUse:
		if step.Count <= 0 {
			return fmt.Errorf("use: count must be positive")
		}
	case ActionGrant, ActionRevoke:
		if !entitlement.Kind(step.Kind).Valid() {
			return fmt.Errorf("%s: %w: %q", step.Action, entitlement.ErrUnknownKind, step.Kind)
		}
	}
	return nil
}

func parseState(s string) (receipt.State, error) {
	switch receipt.State(s) {
	case "", receipt.StatePurchased:
		return receipt.StatePurchased, nil
	case receipt.StatePending:
		return receipt.StatePending, nil
	case receipt.StateUnspecified:
		return receipt.StateUnspecified, nil
	default:
		return "", fmt.Errorf("unknown receipt state %q", s)
	}
}

// ProductFile is the YAML layout read by the catalog command.
type ProductFile struct {
	Products []catalog.Product `yaml:"products"`
}

// LoadProducts reads and validates a product table.
func LoadProducts(path string) ([]catalog.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read product file: %w", err)
	}

	var pf ProductFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if _, err := catalog.NewProducts(pf.Products); err != nil {
		return nil, err
	}
	return pf.Products, nil
}
