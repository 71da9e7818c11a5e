package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chorus/jobs/am"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
	"github.com/chorus/jobs/plan"
	"github.com/chorus/jobs/recurrence"
	"github.com/chorus/jobs/sym"
)

// PlanCmd manages job plans directly against the database
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: sym.Plan + " Inspect and create job plans",
	Long: sym.Plan + ` plan — Inspect and create job plans

Runs against the configured database without a daemon. Triggering runs
needs the daemon's dispatcher; use the HTTP API for that.

Examples:
  chorus-jobs plan ls --workspace ws-1   # List plans in a workspace
  chorus-jobs plan show <id>             # Show a plan with its tasks
  chorus-jobs plan next-run <id>         # When a plan runs next
  chorus-jobs plan apply -f plans.yaml   # Create plans from a file`,
}

var planLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List job plans",
	RunE:  runPlanLs,
}

var planShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job plan as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planNextRunCmd = &cobra.Command{
	Use:   "next-run <id>",
	Short: "Show when a job plan runs next",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanNextRun,
}

var planApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create job plans from a YAML or JSON file",
	Long: `Create job plans from a file holding either a list of plans or a
document with a top-level "plans" list. Every plan is validated before any
is created; a file with one invalid plan creates nothing.

Example file:
  plans:
    - name: Nightly load
      workspace_id: ws-1
      interval_unit: days
      interval_value: 1
      time_zone: American Samoa
      next_run: {year: 2025, month: 7, day: 9, hour: 1, minute: 5, meridiem: am}
      tasks:
        - action: run_sql_file
          target_reference: files/42`,
	RunE: runPlanApply,
}

var (
	planWorkspace string
	planFile      string
)

func init() {
	planLsCmd.Flags().StringVar(&planWorkspace, "workspace", "", "Only list plans in this workspace")
	planApplyCmd.Flags().StringVarP(&planFile, "file", "f", "", "Plan file (- for stdin)")
	_ = planApplyCmd.MarkFlagRequired("file")

	PlanCmd.AddCommand(planLsCmd)
	PlanCmd.AddCommand(planShowCmd)
	PlanCmd.AddCommand(planNextRunCmd)
	PlanCmd.AddCommand(planApplyCmd)
}

// withPlanService opens the database and hands fn a service with no
// dispatcher.
func withPlanService(cmd *cobra.Command, fn func(ctx context.Context, svc *plan.Service) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	svc := plan.NewService(plan.NewStore(database), nil,
		plan.WithDefaultZone(zoneOrDefault(cfg)),
		plan.WithLogger(logger.Logger),
	)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, svc)
}

func zoneOrDefault(cfg *am.Config) string {
	if cfg.Scheduler.DefaultTimeZone == "" {
		return plan.DefaultTimeZone
	}
	return cfg.Scheduler.DefaultTimeZone
}

func runPlanLs(cmd *cobra.Command, args []string) error {
	return withPlanService(cmd, func(ctx context.Context, svc *plan.Service) error {
		plans, err := svc.ListPlans(ctx, planWorkspace)
		if err != nil {
			return err
		}
		writePlanList(cmd.OutOrStdout(), plans)
		return nil
	})
}

func writePlanList(out io.Writer, plans []*plan.Plan) {
	if len(plans) == 0 {
		fmt.Fprintln(out, "No job plans")
		return
	}
	fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-20s  %s\n", "ID", "NAME", "EVERY", "NEXT RUN (UTC)", "TASKS")
	for _, p := range plans {
		every := "on demand"
		if !p.OnDemand() {
			every = fmt.Sprintf("%d %s", p.IntervalValue, p.IntervalUnit)
		}
		next := "-"
		if p.NextRun != nil {
			next = p.NextRun.UTC().Format("2006-01-02 15:04")
		}
		name := p.Name
		if !p.Enabled {
			name = pterm.Gray(name + " (off)")
		}
		fmt.Fprintf(out, "%-36s  %-24s  %-12s  %-20s  %d\n", p.ID, name, every, next, len(p.Tasks))
	}
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	return withPlanService(cmd, func(ctx context.Context, svc *plan.Service) error {
		p, err := svc.GetPlan(ctx, args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal plan")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	})
}

func runPlanNextRun(cmd *cobra.Command, args []string) error {
	return withPlanService(cmd, func(ctx context.Context, svc *plan.Service) error {
		p, err := svc.GetPlan(ctx, args[0])
		if err != nil {
			return err
		}
		return writeNextRun(cmd.OutOrStdout(), p)
	})
}

// writeNextRun prints the next run in UTC followed by the wall clock reading
// in the plan's own zone, as it would be entered in a plan file.
func writeNextRun(out io.Writer, p *plan.Plan) error {
	if p.NextRun == nil {
		fmt.Fprintln(out, "on demand (no scheduled run)")
		return nil
	}
	zone, err := p.Zone()
	if err != nil {
		return err
	}
	a := recurrence.AnchorAt(*p.NextRun, zone)
	fmt.Fprintf(out, "%s (%04d-%02d-%02d %02d:%02d %s %s)\n",
		p.NextRun.UTC().Format(time.RFC3339),
		a.Year, a.Month, a.Day, a.Hour, a.Minute, a.Meridiem, a.TimeZone)
	return nil
}

func runPlanApply(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if planFile == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(planFile)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", planFile)
	}
	specs, err := parsePlanFile(data)
	if err != nil {
		return err
	}

	return withPlanService(cmd, func(ctx context.Context, svc *plan.Service) error {
		created, err := applyPlans(ctx, svc, specs)
		for _, p := range created {
			fmt.Fprintf(cmd.OutOrStdout(), "%s created %s (%s)\n", sym.Plan, p.Name, p.ID)
		}
		return err
	})
}

// planDocument is the mapping form of a plan file.
type planDocument struct {
	Plans []plan.Spec `yaml:"plans"`
}

// parsePlanFile accepts a YAML (or JSON) list of plans or a document with
// a "plans" key.
func parsePlanFile(data []byte) ([]plan.Spec, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "plan file is empty")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(trimmed, &node); err != nil {
		return nil, errors.Wrap(err, "failed to parse plan file")
	}
	if len(node.Content) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "plan file is empty")
	}

	var specs []plan.Spec
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&specs); err != nil {
			return nil, errors.Wrap(err, "failed to decode plans")
		}
	case yaml.MappingNode:
		var doc planDocument
		if err := node.Content[0].Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "failed to decode plans")
		}
		specs = doc.Plans
	default:
		return nil, errors.Wrap(errors.ErrInvalidRequest, "plan file must be a list of plans or have a plans key")
	}
	if len(specs) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "plan file has no plans")
	}
	return specs, nil
}

// applyPlans validates every spec before creating any, so a bad entry
// leaves the database untouched.
func applyPlans(ctx context.Context, svc *plan.Service, specs []plan.Spec) ([]*plan.Plan, error) {
	for i, spec := range specs {
		if err := svc.ValidateSpec(spec); err != nil {
			return nil, errors.Wrapf(err, "plan %d (%q) is invalid", i+1, spec.Name)
		}
	}
	created := make([]*plan.Plan, 0, len(specs))
	for i, spec := range specs {
		p, err := svc.CreateJobPlan(ctx, spec)
		if err != nil {
			return created, errors.Wrapf(err, "failed to create plan %d (%q)", i+1, spec.Name)
		}
		created = append(created, p)
	}
	return created, nil
}
