package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tortoisewolfe/securemsg/verifier"
)

func verifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the store holds no plaintext and no private key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.appCtx

			v, err := verifier.NewVerifier(a.logger, a.db)
			if err != nil {
				return err
			}
			report, err := v.Verify(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, violation := range report.Violations {
				fmt.Fprintln(out, violation.String())
			}
			fmt.Fprintf(out, "Checked %d rows in %d tables: %d violations\n",
				report.RowsChecked, len(report.TablesChecked), len(report.Violations))

			if !report.OK() {
				return fmt.Errorf("zero-knowledge check failed with %d violations", len(report.Violations))
			}
			return nil
		},
	}
}
