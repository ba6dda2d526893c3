package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify and repair execution result counts",
}

func parseExecutionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid execution id %q", arg)
	}
	return id, nil
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <execution-id>...",
	Short: "Compare declared and actual result counts (read-only)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		checks := make([]model.CountCheck, 0, len(args))
		for _, arg := range args {
			id, err := parseExecutionID(arg)
			if err != nil {
				return err
			}
			check, err := env.Auditor.VerifyCount(ctx, id)
			if err != nil {
				return eris.Wrap(err, "audit verify")
			}
			checks = append(checks, *check)
		}
		formatCountChecks(os.Stdout, checks)
		return nil
	},
}

var auditCorrectCmd = &cobra.Command{
	Use:   "correct <execution-id>",
	Short: "Set an execution's declared count to its actual row count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseExecutionID(args[0])
		if err != nil {
			return err
		}
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		changed, err := env.Auditor.CorrectCount(ctx, id)
		if err != nil {
			return eris.Wrap(err, "audit correct")
		}
		fmt.Fprintf(os.Stdout, "execution %d changed=%t\n", id, changed)
		return nil
	},
}

var auditCorrectAllCmd = &cobra.Command{
	Use:   "correct-all",
	Short: "Repair the declared count of every terminal execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Auditor.CorrectAllCounts(ctx)
		if err != nil {
			return eris.Wrap(err, "audit correct-all")
		}
		zap.L().Info("audit complete", zap.Int("corrected", n))
		fmt.Fprintf(os.Stdout, "corrected %d execution(s)\n", n)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditCorrectCmd)
	auditCmd.AddCommand(auditCorrectAllCmd)
	rootCmd.AddCommand(auditCmd)
}

// formatCountChecks writes one row per count check to w.
func formatCountChecks(out io.Writer, checks []model.CountCheck) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXECUTION\tDECLARED\tACTUAL\tACCURATE")
	_, _ = fmt.Fprintln(w, "---------\t--------\t------\t--------")
	for _, c := range checks {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%t\n", c.ExecutionID, c.DeclaredCount, c.ActualCount, c.IsAccurate)
	}
	_ = w.Flush()
}
