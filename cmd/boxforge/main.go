package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var r reported
		if !errors.As(err, &r) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// reported is an error that was already shown to the user.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

var rootCmd = &cobra.Command{
	Use:   "boxforge",
	Short: "Boxforge - build Vagrant boxes from a macOS installer",
	Long: `Boxforge is a CLI tool that turns a macOS installer into a Vagrant box.

It installs macOS into a fresh disk image, converts the disk for the
selected provider (VMware, Parallels, VirtualBox or libvirt), assembles the
box and adds it to the Vagrant box cache. Everything acquired along the way
is released again, whether the build succeeds, fails or is interrupted.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(boxesCmd)
	rootCmd.AddCommand(hardwareCmd)
}
