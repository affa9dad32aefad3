package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/sleroq/world-to-obsidian/internal/app/exporter"
	worlddomain "github.com/sleroq/world-to-obsidian/internal/domain/world"
	"github.com/sleroq/world-to-obsidian/internal/infra/exportfs"
	"github.com/sleroq/world-to-obsidian/internal/infra/i18n"
	"github.com/sleroq/world-to-obsidian/internal/infra/runlog"
	"github.com/sleroq/world-to-obsidian/internal/infra/settingsfile"
	"github.com/sleroq/world-to-obsidian/internal/infra/templates"
	"github.com/sleroq/world-to-obsidian/internal/infra/worldjson"
)

var exportOpts struct {
	input          string
	data           string
	output         string
	templates      string
	settings       string
	ledger         string
	user           string
	markdownBodies bool
	frontmatter    bool
	recordTimeout  time.Duration
	fetchRate      float64
	noProgress     bool

	scenes, actors, items, articles, tables bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the world into a vault",
	Long: `Exports every selected collection into <output>/<world id>/.
Collection flags that are not given reuse the selection of the previous run.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var kindFlags = []struct {
	name string
	kind worlddomain.Kind
	dst  *bool
}{
	{"scenes", worlddomain.KindScenes, &exportOpts.scenes},
	{"actors", worlddomain.KindActors, &exportOpts.actors},
	{"items", worlddomain.KindItems, &exportOpts.items},
	{"articles", worlddomain.KindArticles, &exportOpts.articles},
	{"tables", worlddomain.KindTables, &exportOpts.tables},
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportOpts.input, "input", "i", "", "World export directory (env W2O_INPUT)")
	f.StringVar(&exportOpts.data, "data", "", "Root that local asset paths are relative to; defaults to --input (env W2O_DATA)")
	f.StringVarP(&exportOpts.output, "output", "o", "", "Vault output directory (env W2O_OUTPUT)")
	f.StringVar(&exportOpts.templates, "templates", "", "Directory with template overrides (env W2O_TEMPLATES)")
	f.StringVar(&exportOpts.settings, "settings", "", "Settings file holding the last selection (env W2O_SETTINGS)")
	f.StringVar(&exportOpts.ledger, "ledger", "", "SQLite run ledger; \"off\" disables it (env W2O_LEDGER)")
	f.StringVar(&exportOpts.user, "user", "", "Export with the permissions of this user id (this run only)")
	f.BoolVar(&exportOpts.markdownBodies, "markdown-bodies", false, "Convert rich-text bodies from HTML to Markdown")
	f.BoolVar(&exportOpts.frontmatter, "frontmatter", false, "Prepend YAML properties to every record page")
	f.DurationVar(&exportOpts.recordTimeout, "record-timeout", 0, "Upper bound for exporting a single record (0 disables)")
	f.Float64Var(&exportOpts.fetchRate, "fetch-rate", 0, "Remote asset requests per second (env W2O_FETCH_RATE)")
	f.BoolVar(&exportOpts.noProgress, "no-progress", false, "Log progress instead of drawing a progress bar")
	for _, kf := range kindFlags {
		f.BoolVar(kf.dst, kf.name, true, fmt.Sprintf("Export %s", strings.ToLower(string(kf.kind))))
	}

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	opts := resolveExportOptions()
	if opts.input == "" {
		return fmt.Errorf("--input is required")
	}

	printer, err := i18n.NewPrinter(selectedLocale())
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	store, err := worldjson.Open(opts.input)
	if err != nil {
		return err
	}

	settingsStore, err := settingsfile.Open(opts.settings)
	if err != nil {
		logger.Warn("settings unavailable, using defaults", "path", opts.settings, "error", err)
		settingsStore = nil
	}

	exp := exporter.Exporter{
		Store:         store,
		Storage:       exportfs.NewBackend(opts.output, opts.data, opts.fetchRate),
		Templates:     templates.New(opts.templates),
		Messages:      printer,
		Logger:        logger,
		ConvertHTML:   opts.markdownBodies,
		Frontmatter:   opts.frontmatter,
		RecordTimeout: opts.recordTimeout,
	}
	if settingsStore != nil {
		exp.Settings = settingsStore
	}

	if opts.ledger != "" && opts.ledger != "off" {
		ledger, err := runlog.Open(opts.ledger)
		if err != nil {
			logger.Warn("run ledger unavailable", "path", opts.ledger, "error", err)
		} else {
			defer ledger.Close()
			exp.Ledger = ledger
		}
	}

	selection, err := exp.LoadSelection()
	if err != nil {
		logger.Warn("could not load last selection", "error", err)
	}
	selection = applyKindFlags(cmd, selection)
	if opts.user != "" {
		selection.TargetUserID = opts.user
	}

	if opts.noProgress {
		exp.Progress = &exporter.LogProgress{Logger: logger}
	} else {
		exp.Progress = exporter.NewTerminalProgress(os.Stderr)
	}

	stats, err := exp.Run(cmd.Context(), selection)
	if bar, ok := exp.Progress.(*exporter.TerminalProgress); ok {
		bar.Close()
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if err := exp.SaveSelection(selection); err != nil {
		logger.Warn("could not save selection", "error", err)
	}

	logger.Debug("run recorded", "run", stats.RunID)
	printSummary(cmd, printer, store.World(), vaultDir(opts.output, store.World()), stats, selection)
	return nil
}

type exportConfig struct {
	input          string
	data           string
	output         string
	templates      string
	settings       string
	ledger         string
	user           string
	markdownBodies bool
	frontmatter    bool
	noProgress     bool
	recordTimeout  time.Duration
	fetchRate      float64
}

// resolveExportOptions layers flags over the environment.
func resolveExportOptions() exportConfig {
	pick := func(flag, env string) string {
		if flag != "" {
			return flag
		}
		return env
	}
	out := exportConfig{
		input:          pick(exportOpts.input, envCfg.Input),
		data:           pick(exportOpts.data, envCfg.Data),
		output:         pick(exportOpts.output, envCfg.Output),
		templates:      pick(exportOpts.templates, envCfg.Templates),
		settings:       pick(exportOpts.settings, envCfg.Settings),
		ledger:         pick(exportOpts.ledger, envCfg.Ledger),
		user:           exportOpts.user,
		markdownBodies: exportOpts.markdownBodies,
		frontmatter:    exportOpts.frontmatter,
		noProgress:     exportOpts.noProgress,
		recordTimeout:  exportOpts.recordTimeout,
		fetchRate:      exportOpts.fetchRate,
	}
	if out.data == "" {
		out.data = out.input
	}
	if out.fetchRate <= 0 {
		out.fetchRate = envCfg.FetchRate
	}
	return out
}

func applyKindFlags(cmd *cobra.Command, selection worlddomain.ExportSettings) worlddomain.ExportSettings {
	for _, kf := range kindFlags {
		if !cmd.Flags().Changed(kf.name) {
			continue
		}
		switch kf.kind {
		case worlddomain.KindScenes:
			selection.Scenes = *kf.dst
		case worlddomain.KindActors:
			selection.Actors = *kf.dst
		case worlddomain.KindItems:
			selection.Items = *kf.dst
		case worlddomain.KindArticles:
			selection.Articles = *kf.dst
		case worlddomain.KindTables:
			selection.Tables = *kf.dst
		}
	}
	return selection
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func printSummary(cmd *cobra.Command, p *message.Printer, w worlddomain.World, output string, stats exporter.Stats, selection worlddomain.ExportSettings) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(p.Sprintf("cli.summary_title", w.Title)))
	for _, kind := range worlddomain.Kinds {
		if !selection.Enabled(kind) {
			continue
		}
		fmt.Fprintln(out, "  "+okStyle.Render(p.Sprintf("cli.summary_exported", stats.Exported[kind], string(kind))))
	}
	fmt.Fprintln(out, "  "+p.Sprintf("cli.summary_files", stats.Files))
	if stats.Skipped > 0 {
		fmt.Fprintln(out, "  "+dimStyle.Render(p.Sprintf("cli.summary_skipped", stats.Skipped)))
	}
	if stats.BrokenAssets > 0 {
		fmt.Fprintln(out, "  "+warnStyle.Render(p.Sprintf("cli.summary_broken", stats.BrokenAssets)))
	}
	if len(stats.Failures) > 0 {
		fmt.Fprintln(out, "  "+errStyle.Render(p.Sprintf("cli.summary_failures", len(stats.Failures))))
		for _, f := range stats.Failures {
			fmt.Fprintln(out, "    "+errStyle.Render(formatFailure(f)))
		}
	}
	fmt.Fprintln(out, dimStyle.Render(p.Sprintf("cli.summary_vault", output)))
}

func formatFailure(f worlddomain.Failure) string {
	if f.RecordID == "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	}
	name := f.RecordName
	if name == "" {
		name = f.RecordID
	}
	return fmt.Sprintf("%s/%s [%s]: %s", f.Kind, name, f.Stage, f.Message)
}

func vaultDir(output string, w worlddomain.World) string {
	return filepath.Join(output, exporter.VaultRoot(w))
}
