package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/billsync/catalog"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	File string
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{}

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print a product table",
		Long: `Validate a product table and print it. Without --file the built-in
sample products are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter := newFormatter(rootOpts, cmd)

			products := catalog.DefaultProducts()
			if opts.File != "" {
				ps, err := LoadProducts(opts.File)
				if err != nil {
					_ = formatter.Error(ErrCodeScenario, err.Error(), nil) //nolint:errcheck // best-effort output
					return WrapExitError(ExitCommandError, "load products", err)
				}
				products = ps
			}
			formatter.VerboseLog("Loaded %d product(s)", len(products))

			return formatter.Success(productTable(products))
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "product table YAML file")

	return cmd
}

type productTable []catalog.Product

func (t productTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-6s %-13s %s\n", "SKU", "TYPE", "KIND", "UNITS")
	for _, p := range t {
		fmt.Fprintf(&b, "%-16s %-6s %-13s %d\n", p.SKU, p.Type, p.Kind, p.UnitsPerPurchase())
	}
	return strings.TrimRight(b.String(), "\n")
}
