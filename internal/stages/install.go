package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jbweber/boxforge/internal/archive"
	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/naming"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
)

// packageBox writes the assembled box as a .box archive into the output dir.
func (b *builder) packageBox(ctx context.Context, bc *pipeline.BuildContext, _ *collector.Collector) error {
	out := filepath.Join(bc.Config.OutputDir, naming.ArchiveName(bc.Config.BoxName))
	if err := archive.Pack(ctx, bc.Artifacts.BoxDir, out, bc.Progress, bc.Log.Prefix()); err != nil {
		return err
	}
	if err := bc.Owner.Chown(out); err != nil {
		return err
	}
	bc.Artifacts.Archive = out
	bc.Log.Infof("Box archive written: %s", out)
	return nil
}

// installBox copies the box into the Vagrant box cache of the build owner.
func (b *builder) installBox(ctx context.Context, bc *pipeline.BuildContext, _ *collector.Collector) error {
	cfg := bc.Config
	return bc.Log.Step(fmt.Sprintf("Copying box to %s...", cfg.BoxesDir), func() error {
		if info, err := os.Stat(cfg.BoxesDir); err != nil || !info.IsDir() {
			return fmt.Errorf("boxes directory not found: %s", cfg.BoxesDir)
		}

		var preferred string
		if !bc.MacOSVersion.IsZero() {
			preferred = bc.MacOSVersion.String()
		}
		target, version, err := naming.ResolveTarget(cfg.BoxesDir, cfg.BoxName, preferred, string(cfg.BoxFormat))
		if err != nil {
			return err
		}
		bc.Log.Debug("installing box", "target", target, "version", version)

		files, err := filepath.Glob(filepath.Join(bc.Artifacts.BoxDir, "*"))
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("box %s is empty", bc.Artifacts.BoxDir)
		}
		if err := bc.Runner.Run(ctx, task.Command(mkdir, "-p", target)); err != nil {
			return err
		}
		if err := task.CopyFiles(ctx, bc.Runner, files, target, true); err != nil {
			return err
		}
		if cfg.SudoUser != "" {
			root := naming.BoxRoot(cfg.BoxesDir, cfg.BoxName)
			if err := bc.Runner.Run(ctx, task.Command(chown, "-R", cfg.SudoUser, root)); err != nil {
				return err
			}
		}
		bc.Log.Infof("Installed box: %s (%s, %s)", cfg.BoxName, cfg.BoxFormat, version)
		return nil
	})
}
