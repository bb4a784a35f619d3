package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/graymantle/crucible/internal/suite"
)

func newListCmd() *cobra.Command {
	var byCategory bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tests in the suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := suite.Load(suiteFile)
			if err != nil {
				return fmt.Errorf("loading suite: %w", err)
			}

			if byCategory {
				for _, cat := range catalog.Categories() {
					fmt.Printf("%s:\n", cat)
					for _, id := range catalog.IDsByCategory(cat) {
						fmt.Printf("  %s\n", id)
					}
				}
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tREASONING")
			for _, id := range catalog.IDs() {
				tc, _ := catalog.Get(id)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tc.ID, tc.Name, tc.Category, tc.ReasoningType)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d tests in %d categories\n", catalog.Len(), len(catalog.Categories()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&byCategory, "by-category", false, "group test ids by category")
	return cmd
}
