package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/investigator/internal/model"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show aggregate instance, execution and result counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Registry.GetSummary(ctx)
		if err != nil {
			return eris.Wrap(err, "summary")
		}
		formatSummary(os.Stdout, sum)
		return nil
	},
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List investigator types in the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer env.Close()

		formatTypeList(os.Stdout, env.Registry.Catalog().List())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(typesCmd)
}

// formatSummary writes aggregate counts to w.
func formatSummary(out io.Writer, s *model.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Instances:\t%d\n", s.TotalInstances)
	_, _ = fmt.Fprintf(w, "  Active:\t%d\n", s.ActiveInstances)
	_, _ = fmt.Fprintf(w, "  Running:\t%d\n", s.RunningInstances)
	_, _ = fmt.Fprintf(w, "Executions:\t%d\n", s.TotalExecutions)
	_, _ = fmt.Fprintf(w, "Results:\t%d\n", s.TotalResults)
	_ = w.Flush()
}

// formatTypeList writes the catalog to w.
func formatTypeList(out io.Writer, types []model.InvestigatorType) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CODE\tNAME\tACTIVE\tDEFAULTS")
	_, _ = fmt.Fprintln(w, "----\t----\t------\t--------")
	for _, t := range types {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", t.Code, t.DisplayName, t.IsActive, string(t.DefaultConfiguration))
	}
	_ = w.Flush()
}
