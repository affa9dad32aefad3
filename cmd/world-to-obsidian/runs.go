package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sleroq/world-to-obsidian/internal/infra/i18n"
	"github.com/sleroq/world-to-obsidian/internal/infra/runlog"
)

var (
	runsLimit  int
	runsLedger string
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Show recorded export runs",
	Long: `Without arguments, lists the most recent export runs. With a run id,
prints every failure recorded for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list")
	runsCmd.Flags().StringVar(&runsLedger, "ledger", "", "SQLite run ledger (env W2O_LEDGER)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	path := runsLedger
	if path == "" {
		path = envCfg.Ledger
	}
	ledger, err := runlog.Open(path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		failures, err := ledger.Failures(ctx, args[0])
		if err != nil {
			return err
		}
		if len(failures) == 0 {
			cmd.Printf("Run %s recorded no failures.\n", args[0])
			return nil
		}
		for _, f := range failures {
			cmd.Println(errStyle.Render(formatFailure(f)))
		}
		return nil
	}

	runs, err := ledger.Runs(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		printer, err := i18n.NewPrinter(selectedLocale())
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		cmd.Println(printer.Sprintf("cli.runs_empty"))
		return nil
	}

	for _, r := range runs {
		status := r.Status
		switch r.Status {
		case runlog.StatusOK:
			status = okStyle.Render(status)
		case runlog.StatusPartial:
			status = warnStyle.Render(status)
		case runlog.StatusFailed:
			status = errStyle.Render(status)
		}
		cmd.Printf("%s  %s  %-8s  %s\n",
			dimStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04:05")),
			r.ID, status, r.WorldID)

		details := []string{
			fmt.Sprintf("%d exported", r.TotalExported()),
			fmt.Sprintf("%d files", r.Files),
		}
		if r.Skipped > 0 {
			details = append(details, fmt.Sprintf("%d skipped", r.Skipped))
		}
		if r.BrokenAssets > 0 {
			details = append(details, fmt.Sprintf("%d broken assets", r.BrokenAssets))
		}
		if r.FailureCount > 0 {
			details = append(details, fmt.Sprintf("%d failures", r.FailureCount))
		}
		cmd.Println("    " + strings.Join(details, ", "))
		if r.Error != "" {
			cmd.Println("    " + errStyle.Render(r.Error))
		}
	}
	return nil
}
