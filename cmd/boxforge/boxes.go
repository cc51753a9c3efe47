package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/naming"
	"github.com/jbweber/boxforge/internal/output"
)

var (
	boxesOutput    string
	boxesNoHeaders bool
	boxesDir       string
)

var boxesCmd = &cobra.Command{
	Use:   "boxes",
	Short: "List boxes in the Vagrant box cache",
	Long: `List every box, version and provider in the Vagrant box cache.

The cache is $VAGRANT_HOME/boxes when VAGRANT_HOME is set and
~/.vagrant.d/boxes otherwise. Under sudo the home directory of the sudo
user is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(boxesOutput); err != nil {
			return err
		}
		dir := resolveBoxesDir(boxesDir, config.EnvironmentFromOS())
		if dir == "" {
			return fmt.Errorf("boxes directory is unknown: set VAGRANT_HOME or --boxes-dir")
		}

		boxes, err := naming.ListBoxes(dir)
		if err != nil {
			return err
		}
		f, err := output.NewFormatter(output.Options{
			Format:    output.Format(boxesOutput),
			NoHeaders: boxesNoHeaders,
		})
		if err != nil {
			return err
		}
		out, err := f.FormatBoxes(boxes)
		if err != nil {
			return fmt.Errorf("failed to format boxes: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	boxesCmd.Flags().StringVarP(&boxesOutput, "output", "o", "table", "output format: table, yaml or json")
	boxesCmd.Flags().BoolVar(&boxesNoHeaders, "no-headers", false, "omit the table header")
	boxesCmd.Flags().StringVar(&boxesDir, "boxes-dir", "", "Vagrant box cache to list")
}

// resolveBoxesDir applies the build's boxes_dir defaulting, falling back to
// the invoking user's home when not running under sudo.
func resolveBoxesDir(flag string, env config.Environment) string {
	if env.UserHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			env.UserHome = home
		}
	}
	cfg := config.Defaults()
	cfg.BoxesDir = flag
	cfg.Normalize(env)
	return cfg.BoxesDir
}
