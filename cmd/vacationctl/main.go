// vacationctl runs reconciliation passes from the command line against
// the store configured in the environment (DB_DRIVER, SQLITE_PATH,
// PG_DSN). It is the operator's tool for one-off repairs and backfills:
//
//	vacationctl reconcile --employee emp-1 --as-of 2024-10-16
//	vacationctl reconcile --all --dry-run    # every active employee
//	vacationctl reset --employee emp-1
//	vacationctl cycles --employee emp-1
//	vacationctl schedule
//	vacationctl enqueue --all                # hand off to cmd/worker
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"github.com/spf13/pflag"

	"github.com/warp/vacation-engine/app"
	"github.com/warp/vacation-engine/config"
	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/jobs"
	"github.com/warp/vacation-engine/vacation"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type options struct {
	employee string
	all      bool
	asOf     string
	dryRun   bool
	jsonOut  bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		if len(args) == 0 {
			return errUsage
		}
		return nil
	}
	command := args[0]

	var opts options
	flagSet := pflag.NewFlagSet("vacationctl "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.employee, "employee", "e", "", "employee id")
	flagSet.BoolVar(&opts.all, "all", false, "reconcile/enqueue: every active employee")
	flagSet.StringVar(&opts.asOf, "as-of", "", "reference date YYYY-MM-DD (default: today in TIMEZONE)")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "compute changes without writing them")
	flagSet.BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.all && opts.employee != "" {
		return fmt.Errorf("--all and --employee are mutually exclusive")
	}

	var ref generic.Date
	if opts.asOf != "" {
		var err error
		if ref, err = generic.ParseDate(opts.asOf); err != nil {
			return fmt.Errorf("--as-of: %w", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if command == "enqueue" {
		return enqueue(ctx, cfg, opts, stdout)
	}
	if command == "schedule" {
		policy, err := app.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		return printSchedule(stdout, policy, opts.jsonOut)
	}

	engine, err := app.Build(ctx, cfg, logger, app.Options{SkipRedis: true})
	if err != nil {
		return err
	}
	defer engine.Close()

	recOpts := vacation.Options{ReferenceDate: ref, DryRun: opts.dryRun}
	id := vacation.EmployeeID(opts.employee)

	switch command {
	case "reconcile":
		if opts.all {
			report, err := engine.Reconciler.ReconcileAll(ctx, recOpts)
			if err != nil {
				return err
			}
			return printBatch(stdout, report, opts.jsonOut)
		}
		if opts.employee == "" {
			return fmt.Errorf("reconcile: --employee or --all is required")
		}
		res, err := engine.Reconciler.ReconcileEmployee(ctx, id, recOpts)
		if err != nil {
			return err
		}
		return printResult(stdout, res, opts.jsonOut)
	case "reset":
		if opts.employee == "" {
			return fmt.Errorf("reset: --employee is required")
		}
		res, err := engine.Reconciler.ResetEmployee(ctx, id, recOpts)
		if err != nil {
			return err
		}
		return printResult(stdout, res, opts.jsonOut)
	case "cycles":
		if opts.employee == "" {
			return fmt.Errorf("cycles: --employee is required")
		}
		if _, err := engine.Store.GetEmployee(ctx, id); err != nil {
			return err
		}
		cycles, err := engine.Store.ListByEmployee(ctx, id)
		if err != nil {
			return err
		}
		if ref.IsZero() {
			ref = engine.Reconciler.Today()
		}
		return printCycles(stdout, cycles, ref, opts.jsonOut)
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q: %w", command, errUsage)
	}
}

func enqueue(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer) error {
	if cfg.RedisAddr == "" {
		return fmt.Errorf("enqueue: REDIS_ADDR is not set")
	}
	if !opts.all && opts.employee == "" {
		return fmt.Errorf("enqueue: --employee or --all is required")
	}
	client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()

	info, err := client.EnqueueReconcile(ctx, jobs.ReconcilePayload{
		EmployeeID: opts.employee,
		All:        opts.all,
		AsOf:       opts.asOf,
		DryRun:     opts.dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSchedule(w io.Writer, policy vacation.Policy, asJSON bool) error {
	tiers := policy.Schedule.Tiers()
	if asJSON {
		return printJSON(w, map[string]any{
			"validity_months":     policy.ValidityMonths,
			"pre_creation_months": policy.PreCreationMonths,
			"tiers":               tiers,
		})
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM YEAR\tDAYS")
	for _, t := range tiers {
		fmt.Fprintf(tw, "%d\t%d\n", t.FromYear, t.Days)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "validity %d months, pre-creation %d months\n", policy.ValidityMonths, policy.PreCreationMonths)
	return nil
}

func printCycles(w io.Writer, cycles []vacation.Cycle, ref generic.Date, asJSON bool) error {
	if asJSON {
		return printJSON(w, cycles)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tYEAR\tEARNED\tUSED\tAVAILABLE\tSTATE")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			c.StartDate, c.EndDate, c.YearsOfService, c.DaysEarned, c.DaysUsed, c.DaysAvailable, c.State(ref))
	}
	return tw.Flush()
}

type resultSummary struct {
	EmployeeID    string   `json:"employee_id"`
	ReferenceDate string   `json:"reference_date"`
	DryRun        bool     `json:"dry_run"`
	Created       int      `json:"created"`
	Updated       int      `json:"updated"`
	Unchanged     int      `json:"unchanged"`
	Deleted       int      `json:"deleted"`
	Warnings      []string `json:"warnings,omitempty"`
}

func summarize(res *vacation.Result) resultSummary {
	out := resultSummary{
		EmployeeID:    string(res.EmployeeID),
		ReferenceDate: res.ReferenceDate.String(),
		DryRun:        res.DryRun,
		Created:       len(res.Created),
		Updated:       len(res.Updated),
		Unchanged:     res.Unchanged,
		Deleted:       res.Deleted,
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	return out
}

func printResult(w io.Writer, res *vacation.Result, asJSON bool) error {
	s := summarize(res)
	if asJSON {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "%s as of %s: %d created, %d updated, %d unchanged, %d deleted",
		s.EmployeeID, s.ReferenceDate, s.Created, s.Updated, s.Unchanged, s.Deleted)
	if s.DryRun {
		fmt.Fprint(w, " (dry run)")
	}
	fmt.Fprintln(w)
	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}

func printBatch(w io.Writer, report *vacation.BatchReport, asJSON bool) error {
	if asJSON {
		type failure struct {
			EmployeeID string `json:"employee_id"`
			Error      string `json:"error"`
		}
		out := struct {
			ReferenceDate string          `json:"reference_date"`
			Results       []resultSummary `json:"results"`
			Skipped       []failure       `json:"skipped"`
			Failures      []failure       `json:"failures"`
		}{ReferenceDate: report.ReferenceDate.String()}
		for _, r := range report.Results {
			out.Results = append(out.Results, summarize(r))
		}
		for _, f := range report.Skipped {
			out.Skipped = append(out.Skipped, failure{string(f.EmployeeID), f.Err.Error()})
		}
		for _, f := range report.Failures {
			out.Failures = append(out.Failures, failure{string(f.EmployeeID), f.Err.Error()})
		}
		return printJSON(w, out)
	}
	for _, r := range report.Results {
		if err := printResult(w, r, false); err != nil {
			return err
		}
	}
	for _, f := range report.Skipped {
		fmt.Fprintf(w, "%s skipped: %v\n", f.EmployeeID, f.Err)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "%s failed: %v\n", f.EmployeeID, f.Err)
	}
	fmt.Fprintf(w, "batch as of %s: %d reconciled, %d skipped, %d failed, %d writes\n",
		report.ReferenceDate, len(report.Results), len(report.Skipped), len(report.Failures), report.Writes())
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `vacationctl - reconcile vacation balances from the command line

Usage:
  vacationctl <command> [flags]

Commands:
  reconcile   reconcile one employee (--employee) or every active employee (--all)
  reset       delete and regenerate one employee's cycles
  cycles      list one employee's stored cycles
  schedule    print the accrual policy in effect
  enqueue     queue a reconciliation for cmd/worker (needs REDIS_ADDR)

Flags:
  -e, --employee string   employee id
      --all               every active employee (reconcile, enqueue)
      --as-of string      reference date YYYY-MM-DD
      --dry-run           compute changes without writing them
      --json              print JSON
`)
}
