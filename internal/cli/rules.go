package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newRulesCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List detection rules in catalog order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := opts.detector()
			if err != nil {
				return err
			}
			rules := d.Rules()
			if asJSON {
				return printJSON(cmd, rules)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tPREFIX\tCONFIDENCE\tCONTEXT\tENABLED")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%v\n",
					r.Name, r.Category, r.Prefix, r.Confidence, r.RequiresContext, r.Enabled)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rules as JSON")
	return cmd
}
