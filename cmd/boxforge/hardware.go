package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/boxforge/internal/osversion"
)

var hardwareTable string

var hardwareCmd = &cobra.Command{
	Use:   "hardware <macos-version>",
	Short: "Show the virtual hardware used for a macOS version",
	Long: `Show which virtual hardware a box for the given macOS version gets:
the VMware hardware version and guest OS, and the VirtualBox OS type.

Example:
  boxforge hardware 10.15.7
  boxforge hardware --table ./hardware.yaml 11.2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := osversion.Parse(args[0])
		if v.IsZero() {
			return fmt.Errorf("invalid macOS version: %q", args[0])
		}

		table := osversion.DefaultTable()
		if hardwareTable != "" {
			var err error
			if table, err = osversion.LoadTableFile(hardwareTable); err != nil {
				return err
			}
		}

		out, err := yaml.Marshal(table.Lookup(v))
		if err != nil {
			return fmt.Errorf("failed to marshal hardware: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	hardwareCmd.Flags().StringVar(&hardwareTable, "table", "", "YAML hardware table to use instead of the built-in one")
}
