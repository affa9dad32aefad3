package main

import (
	"github.com/spf13/cobra"

	"github.com/sleroq/world-to-obsidian/internal/infra/templates"
)

var templatesForce bool

var templatesCmd = &cobra.Command{
	Use:   "templates <dir>",
	Short: "Write the default templates for customisation",
	Long: `Copies the built-in page, list, table and home templates into dir.
Point --templates (or W2O_TEMPLATES) at the directory to use the edited copies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := templates.WriteDefaults(args[0], templatesForce)
		if err != nil {
			return err
		}
		cmd.Printf("Wrote %d templates to %s\n", n, args[0])
		return nil
	},
}

func init() {
	templatesCmd.Flags().BoolVarP(&templatesForce, "force", "f", false, "Overwrite existing files")
	rootCmd.AddCommand(templatesCmd)
}
