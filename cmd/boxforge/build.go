package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/osversion"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/preflight"
	"github.com/jbweber/boxforge/internal/progress"
	"github.com/jbweber/boxforge/internal/stages"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/ui"
)

var buildCmd = &cobra.Command{
	Use:   "build [flags]",
	Short: "Build a box and add it to the Vagrant box cache",
	Long: `Build a Vagrant box from a macOS installer.

Must be run as root through sudo; the sudo user owns everything the build
produces. Options are read from the built-in defaults, then the file given
with --config, then the flags on the command line.

Example:
  sudo boxforge build --box-format virtualbox --name catalina --output-dir ~/boxes`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var configPath string

func init() {
	buildCmd.Flags().StringVar(&configPath, "config", "", "YAML file with build options")
	bindBuildFlags(buildCmd.Flags(), config.Defaults())
}

// bindBuildFlags registers every build option on fs, bound to c. Defaults
// shown in the help come from c.
func bindBuildFlags(fs *pflag.FlagSet, c *config.BuildConfig) {
	fs.StringVar((*string)(&c.BoxFormat), "box-format", string(c.BoxFormat), "box format: vmware_fusion, vmware_desktop, parallels, virtualbox or libvirt")
	fs.StringVar(&c.BoxName, "name", c.BoxName, "name of the box")
	fs.IntVar(&c.DiskSizeGB, "disk", c.DiskSizeGB, "disk size in GiB")
	fs.StringVar(&c.FSType, "fstype", c.FSType, "filesystem type: APFS, HFS+ or JHFS+")
	fs.IntVar(&c.MemoryMB, "memory", c.MemoryMB, "RAM in MiB")
	fs.IntVar(&c.CPUCount, "cpu", c.CPUCount, "number of virtual CPUs")

	fs.StringVar(&c.ShortName, "short", c.ShortName, "short name of the user account")
	fs.StringVar(&c.FullName, "full", c.FullName, "full name of the user account (default: capitalized short name)")
	fs.StringVar(&c.Password, "password", c.Password, "password of the user account (default: the short name)")
	fs.StringVar(&c.AuthorizedKey, "authorized-key", c.AuthorizedKey, "SSH public key installed for the user")

	fs.StringVar(&c.Installer, "installer", c.Installer, "path to the macOS installer app")
	fs.StringVar(&c.InstallerDMG, "installer-dmg", c.InstallerDMG, "path to a disk image holding the macOS installer app")
	fs.StringVar(&c.VMwareApp, "vmware", c.VMwareApp, "path to the VMware Fusion app")
	fs.StringVar(&c.ParallelsApp, "parallels", c.ParallelsApp, "path to the Parallels Desktop app")
	fs.StringVar(&c.UserScript, "user-script", c.UserScript, "script run against the installed volume before the image is saved")
	fs.StringVar(&c.HardwareTable, "hardware-table", c.HardwareTable, "YAML table mapping macOS versions to virtual hardware")

	fs.BoolVar(&c.VMwareTools, "vmware-tools", c.VMwareTools, "install the VMware Tools into vmware boxes")
	fs.BoolVar(&c.AutoLogin, "auto-login", c.AutoLogin, "log the user in automatically")
	fs.BoolVar(&c.SkipMiniBuddy, "skip-mini-buddy", c.SkipMiniBuddy, "skip the Setup Assistant on first boot")
	fs.BoolVar(&c.HiDPI, "hidpi", c.HiDPI, "enable HiDPI resolutions")
	fs.BoolVar(&c.Fullscreen, "fullscreen", c.Fullscreen, "start the GUI in full screen")
	fs.BoolVar(&c.GUI, "gui", c.GUI, "show the GUI when the box boots")
	fs.BoolVar(&c.SIPEnabled, "sip", c.SIPEnabled, "leave System Integrity Protection enabled")
	fs.BoolVar(&c.UseQemu, "use-qemu", c.UseQemu, "convert vmware disks with qemu-img instead of VMware's tools")

	fs.StringVar(&c.BoxesDir, "boxes-dir", c.BoxesDir, "Vagrant box cache (default: $VAGRANT_HOME/boxes or ~/.vagrant.d/boxes of the sudo user)")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "also write a .box archive into this directory")
	fs.StringVar(&c.LibvirtSocket, "libvirt-socket", c.LibvirtSocket, "libvirtd socket used to validate libvirt boxes")

	fs.BoolVar(&c.Verbose, "verbose", c.Verbose, "show diagnostic output and command output")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "verbose, with timestamps, and keep temporary directories")
}

// loadConfig layers defaults, the config file and the flags the user set.
func loadConfig(flags *pflag.FlagSet, path string) (*config.BuildConfig, error) {
	cfg := config.Defaults()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}

	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	bindBuildFlags(overlay, cfg)
	var err error
	flags.Visit(func(f *pflag.Flag) {
		o := overlay.Lookup(f.Name)
		if o == nil || err != nil {
			return
		}
		if serr := o.Value.Set(f.Value.String()); serr != nil {
			err = fmt.Errorf("invalid value for --%s: %w", f.Name, serr)
		}
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), configPath)
	if err != nil {
		return err
	}
	cfg.Normalize(config.EnvironmentFromOS())
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := ui.NewStderr(cfg.Verbose, cfg.Debug)
	warnings, err := preflight.Check(cfg, preflight.DefaultHost())
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Errorf("Warning: %s", w)
	}

	hardware := osversion.DefaultTable()
	if cfg.HardwareTable != "" {
		if hardware, err = osversion.LoadTableFile(cfg.HardwareTable); err != nil {
			return err
		}
	}
	owner, err := disk.LookupOwner(cfg.SudoUser)
	if err != nil {
		return err
	}

	col := collector.New(log)
	col.SetPreserve(cfg.Debug)
	workDir, err := os.MkdirTemp("", "boxforge.")
	if err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	col.AddTempDir(workDir)

	bc := &pipeline.BuildContext{
		Config:       cfg,
		Runner:       task.NewExec(log, cfg.Verbose),
		Log:          log,
		Progress:     progress.NewReporter(os.Stderr, progress.TerminalWidth(os.Stderr), log.Green),
		Hardware:     hardware,
		Owner:        owner,
		WorkDir:      workDir,
		InstallerApp: cfg.Installer,
	}

	o := &pipeline.Orchestrator{
		Stages:    stages.Plan(cfg, stages.Deps{Connect: stages.ConnectLibvirt}),
		Collector: col,
		Status:    log,
		ReportError: func(err error) {
			log.Reset()
			_, _ = fmt.Fprintln(log.Writer(), log.Red("Error: "+err.Error()))
		},
	}
	if err := o.Run(cmd.Context(), bc); err != nil {
		var in *pipeline.Interrupted
		if errors.As(err, &in) {
			return err
		}
		return reported{err}
	}
	return nil
}
