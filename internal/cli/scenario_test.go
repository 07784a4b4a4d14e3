package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/billsync/entitlement"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario(strings.NewReader(`
name: basic
steps:
  - action: connect
  - action: own
    token: t1
    sku: one_time
    state: pending
  - action: fail
    op: consume
    code: service_timeout
  - action: use
    count: 2
expect:
  entitlements:
    consumable:
      count: 3
  grants: 1
`))
	require.NoError(t, err)
	assert.Equal(t, "basic", s.Name)
	require.Len(t, s.Steps, 4)
	assert.Equal(t, ActionOwn, s.Steps[1].Action)
	assert.Equal(t, "pending", s.Steps[1].State)
	assert.Equal(t, 2, s.Steps[3].Count)

	require.NotNil(t, s.Expect)
	require.NotNil(t, s.Expect.Grants)
	assert.Equal(t, 1, *s.Expect.Grants)
	want := s.Expect.Entitlements[entitlement.KindConsumable]
	require.NotNil(t, want.Count)
	assert.Equal(t, 3, *want.Count)
	assert.Nil(t, want.Entitled)
	assert.Nil(t, s.Expect.Ledger)
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\nsteps:\n  - action: connect\n    bogus: 1\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "steps:\n  - action: connect\n",
			want: "name is required",
		},
		{
			name: "no steps",
			yaml: "name: x\n",
			want: "steps list is required",
		},
		{
			name: "unknown action",
			yaml: "name: x\nsteps:\n  - action: teleport\n",
			want: `unknown action "teleport"`,
		},
		{
			name: "buy without sku",
			yaml: "name: x\nsteps:\n  - action: buy\n",
			want: "sku is required",
		},
		{
			name: "bad state",
			yaml: "name: x\nsteps:\n  - action: own\n    sku: coin\n    state: refunded\n",
			want: "steps[0]",
		},
		{
			name: "fail with unknown op",
			yaml: "name: x\nsteps:\n  - action: fail\n    op: refund\n    code: error\n",
			want: `unknown op "refund"`,
		},
		{
			name: "fail with unknown code",
			yaml: "name: x\nsteps:\n  - action: fail\n    op: consume\n    code: nope\n",
			want: `unknown code "nope"`,
		},
		{
			name: "use without count",
			yaml: "name: x\nsteps:\n  - action: use\n",
			want: "count must be positive",
		},
		{
			name: "grant unknown kind",
			yaml: "name: x\nsteps:\n  - action: grant\n    kind: gold\n",
			want: "unknown kind",
		},
		{
			name: "expectation on unknown kind",
			yaml: "name: x\nsteps:\n  - action: connect\nexpect:\n  entitlements:\n    gold:\n      entitled: true\n",
			want: "expect",
		},
		{
			name: "invalid products",
			yaml: "name: x\nproducts:\n  - sku: a\n    type: bogus\n    kind: one_time\nsteps:\n  - action: connect\n",
			want: "products",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioFixtures(t *testing.T) {
	for _, name := range []string{"purchase.yaml", "acknowledge_outage.yaml"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", name))
			require.NoError(t, err)
			assert.NotEmpty(t, s.Steps)
			assert.NotNil(t, s.Expect)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}
