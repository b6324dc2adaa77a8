package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/apsync/internal/rewards"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [item-id]...",
		Short: "Show what item ids grant",
		Long: `Without arguments, list every catalogued item. With ids, resolve each one
the way the engine does when the item is received.

Example:
  apsync catalog
  apsync catalog 0x100 0x303 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			catalog, err := rewards.DefaultCatalog()
			if err != nil {
				return out.Fail(ExitFailure, CodeConfig, "failed to load catalog", err)
			}

			if len(args) == 0 {
				return out.Success(newCatalogResult(catalog.Rewards()))
			}

			ids, err := parseArgs(args)
			if err != nil {
				return out.Fail(ExitCommandError, CodeConfig, "invalid item id", err)
			}
			resolved := make([]rewards.Reward, 0, len(ids))
			for _, id := range ids {
				r, err := catalog.Resolve(id)
				if err != nil {
					return out.Fail(ExitFailure, CodeUnknownID, fmt.Sprintf("cannot resolve item 0x%X", id), err)
				}
				resolved = append(resolved, r)
			}
			return out.Success(newCatalogResult(resolved))
		},
	}
}

type catalogItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Grants   string `json:"grants"`
}

type catalogResult struct {
	Items []catalogItem `json:"items"`
}

func newCatalogResult(rs []rewards.Reward) catalogResult {
	r := catalogResult{Items: make([]catalogItem, 0, len(rs))}
	for _, reward := range rs {
		r.Items = append(r.Items, catalogItem{
			ID:       reward.ID,
			Name:     reward.Name,
			Category: rewards.CategoryOf(reward.ID).String(),
			Grants:   reward.Kind.String(),
		})
	}
	return r
}

func (r catalogResult) Text() string {
	var b strings.Builder
	for _, it := range r.Items {
		fmt.Fprintf(&b, "0x%03X  %-28s %s\n", it.ID, it.Name, it.Grants)
	}
	return b.String()
}
