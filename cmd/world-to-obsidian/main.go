package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sleroq/world-to-obsidian/internal/platform/config"
)

var (
	envCfg  config.Env
	verbose bool
	locale  string
)

var rootCmd = &cobra.Command{
	Use:   "world-to-obsidian",
	Short: "Export a tabletop world into an Obsidian vault",
	Long: `Reads a world export directory (scenes, actors, items, journal entries and
rollable tables) and writes a cross-linked Markdown vault with the
referenced images copied next to the notes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&locale, "locale", "", "Locale for status messages (env W2O_LOCALE)")
}

func main() {
	cfg, err := config.LoadEnv()
	if err != nil {
		config.Exitf("configuration: %v", err)
	}
	envCfg = cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		config.Exitf("%v", err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func selectedLocale() string {
	if locale != "" {
		return locale
	}
	return envCfg.Locale
}
