package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/investigator/internal/model"
	"github.com/sells-group/investigator/internal/registry"
	"github.com/sells-group/investigator/internal/store"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"inst"},
	Short:   "Manage investigator instances",
	Long:    "Commands for creating, running, activating, and inspecting investigator instances.",
}

// -- instances list --

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances with their latest execution",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		typeCode, _ := cmd.Flags().GetString("type")
		activeOnly, _ := cmd.Flags().GetBool("active")
		limit, _ := cmd.Flags().GetInt("limit")

		views, err := env.Registry.List(ctx, store.InstanceFilter{
			TypeCode:   typeCode,
			ActiveOnly: activeOnly,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "instances list")
		}
		if len(views) == 0 {
			fmt.Fprintln(os.Stderr, "No instances found.")
			return nil
		}
		formatInstanceList(os.Stdout, views)
		return nil
	},
}

// -- instances create --

var instancesCreateCmd = &cobra.Command{
	Use:   "create [type-code]",
	Short: "Create an instance, or many from a --from fixture file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetString("from")
		if from == "" && len(args) == 0 {
			return eris.New("instances create: a type code or --from is required")
		}

		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		if from != "" {
			specs, err := registry.LoadSpecsFromFile(from)
			if err != nil {
				return err
			}
			created, skipped, err := env.Registry.CreateAll(ctx, specs)
			if err != nil {
				return eris.Wrap(err, "instances create")
			}
			zap.L().Info("instances created", zap.Int("created", len(created)), zap.Int("skipped", skipped))
			for _, inst := range created {
				fmt.Fprintln(os.Stdout, inst.ID)
			}
			return nil
		}

		name, _ := cmd.Flags().GetString("name")
		rawCfg, _ := cmd.Flags().GetString("config")
		var cfgJSON json.RawMessage
		if rawCfg != "" {
			cfgJSON = json.RawMessage(rawCfg)
		}
		inst, err := env.Registry.Create(ctx, args[0], name, cfgJSON)
		if err != nil {
			return eris.Wrap(err, "instances create")
		}
		fmt.Fprintln(os.Stdout, inst.ID)
		return nil
	},
}

// -- instances delete --

var instancesDeleteCmd = &cobra.Command{
	Use:   "delete <instance-id>",
	Short: "Delete an instance with its executions and results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		return eris.Wrap(env.Orch.Delete(ctx, args[0]), "instances delete")
	},
}

// -- instances start --

var instancesStartCmd = &cobra.Command{
	Use:   "start <instance-id>",
	Short: "Run an instance and wait for it to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		exec, err := env.Orch.Start(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "instances start")
		}
		env.Orch.Wait()

		final, err := env.Store.GetExecution(ctx, exec.ID)
		if err != nil {
			return eris.Wrap(err, "instances start")
		}
		formatExecutionList(os.Stdout, []model.Execution{*final})
		if final.Status == model.ExecutionStatusFailed {
			return eris.Errorf("execution %d failed", final.ID)
		}
		return nil
	},
}

// -- instances activate / deactivate --

func setActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <instance-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := initEnv(ctx, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			return eris.Wrapf(env.Registry.SetActive(ctx, args[0], active), "instances %s", use)
		},
	}
}

// -- instances executions --

var instancesExecutionsCmd = &cobra.Command{
	Use:   "executions <instance-id>",
	Short: "Show an instance's execution history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		execs, err := env.Registry.Executions(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "instances executions")
		}
		if len(execs) == 0 {
			fmt.Fprintln(os.Stderr, "No executions found.")
			return nil
		}
		formatExecutionList(os.Stdout, execs)
		return nil
	},
}

// -- instances results --

var instancesResultsCmd = &cobra.Command{
	Use:   "results <instance-id>",
	Short: "Show an instance's most recent findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		results, err := env.Registry.Results(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "instances results")
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No results found.")
			return nil
		}
		formatResultList(os.Stdout, results)
		return nil
	},
}

func init() {
	instancesListCmd.Flags().String("type", "", "filter by investigator type code")
	instancesListCmd.Flags().Bool("active", false, "only active instances")
	instancesListCmd.Flags().Int("limit", 100, "max number of instances to display")

	instancesCreateCmd.Flags().String("name", "", "custom name (default: the type's display name)")
	instancesCreateCmd.Flags().String("config", "", `threshold overrides as JSON, e.g. '{"maxTaxRatio":0.3}'`)
	instancesCreateCmd.Flags().String("from", "", "JSON fixture file with a list of instances to create")

	instancesExecutionsCmd.Flags().Int("limit", 20, "max number of executions to display")
	instancesResultsCmd.Flags().Int("limit", 50, "max number of results to display")
	instancesResultsCmd.Flags().Bool("json", false, "print results as JSON")

	instancesCmd.AddCommand(instancesListCmd)
	instancesCmd.AddCommand(instancesCreateCmd)
	instancesCmd.AddCommand(instancesDeleteCmd)
	instancesCmd.AddCommand(instancesStartCmd)
	instancesCmd.AddCommand(setActiveCmd("activate", "Reactivate a soft-deleted instance", true))
	instancesCmd.AddCommand(setActiveCmd("deactivate", "Soft-delete an instance, keeping its history", false))
	instancesCmd.AddCommand(instancesExecutionsCmd)
	instancesCmd.AddCommand(instancesResultsCmd)
	rootCmd.AddCommand(instancesCmd)
}

// formatInstanceList writes a tabular list of instances to w.
func formatInstanceList(out io.Writer, views []model.InstanceView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tACTIVE\tSTATUS\tRESULTS\tLAST_RUN")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t------\t-------\t--------")

	for _, v := range views {
		last := "-"
		if v.LastExecutedAt != nil {
			last = v.LastExecutedAt.UTC().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			v.ID,
			v.TypeCode,
			truncate(v.CustomName, 30),
			v.IsActive,
			v.Status,
			v.ResultCount,
			last,
		)
	}
	_ = w.Flush()
}

// formatExecutionList writes a tabular list of executions to w.
func formatExecutionList(out io.Writer, execs []model.Execution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tRESULTS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t-------\t--------\t-----")

	for _, e := range execs {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
		}
		errMsg := ""
		if e.ErrorMessage != nil {
			errMsg = truncate(*e.ErrorMessage, 40)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.Status,
			e.ResultCount,
			e.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatResultList writes a tabular list of findings to w.
func formatResultList(out io.Writer, results []model.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXECUTION\tSEVERITY\tENTITY\tMESSAGE\tAT")
	_, _ = fmt.Fprintln(w, "---------\t--------\t------\t-------\t--")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\t%s\n",
			r.ExecutionID,
			r.Severity,
			r.EntityType,
			r.EntityID,
			truncate(r.Message, 60),
			r.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
