// Package stages implements the build steps that turn a macOS installer into
// a Vagrant box, and the plan that orders them for each box format.
//
// Every stage works in its own collector-managed temp dir and registers the
// release of anything it attaches or registers before acquiring it, so a
// failure or signal at any point leaves nothing behind.
package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/config"
	"github.com/jbweber/boxforge/internal/disk"
	"github.com/jbweber/boxforge/internal/libvirt"
	"github.com/jbweber/boxforge/internal/pipeline"
	"github.com/jbweber/boxforge/internal/task"
	"github.com/jbweber/boxforge/internal/tools"
)

// Tools run with absolute paths because the build runs under sudo with a
// reduced PATH.
const (
	plistBuddy = "/usr/libexec/PlistBuddy"
	swVers     = "/usr/bin/sw_vers"
	installer  = "/usr/sbin/installer"
	pkgutil    = "/usr/sbin/pkgutil"
	ditto      = "/usr/bin/ditto"
	sqlite3    = "/usr/bin/sqlite3"
	sed        = "/usr/bin/sed"
	curl       = "/usr/bin/curl"
	tar        = "/usr/bin/tar"
	unzip      = "/usr/bin/unzip"
	defaults   = "/usr/bin/defaults"
	mkdir      = "/bin/mkdir"
	cp         = "/bin/cp"
	mv         = "/bin/mv"
	chown      = "/usr/sbin/chown"
)

// Product CLIs are found through PATH.
const (
	vboxManage = "VBoxManage"
	prlctl     = "prlctl"
	prlDisk    = "prl_disk_tool"
	qemuImg    = "qemu-img"
)

// vmName is the name the product CLIs register the box VM under while it is
// assembled.
const vmName = "macinbox"

// DomainRegistry defines and removes libvirt domains.
type DomainRegistry interface {
	DefineDomain(xml string) (string, error)
	UndefineDomain(name string) error
	Close() error
}

// ConnectFunc opens a DomainRegistry on socket.
type ConnectFunc func(ctx context.Context, socket string) (DomainRegistry, error)

// ConnectLibvirt connects to the libvirt daemon listening on socket.
func ConnectLibvirt(ctx context.Context, socket string) (DomainRegistry, error) {
	c, err := libvirt.ConnectWithContext(ctx, socket, 0)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Deps are the collaborators the stages reach outside the BuildContext.
type Deps struct {
	// Connect opens the libvirt connection; nil means ConnectLibvirt.
	Connect ConnectFunc
	// DiskOptions are applied to every disk image a stage attaches.
	DiskOptions []disk.Option
}

type builder struct {
	deps Deps
}

// Plan returns the stages for cfg in the order they run.
func Plan(cfg *config.BuildConfig, deps Deps) []pipeline.Stage {
	if deps.Connect == nil {
		deps.Connect = ConnectLibvirt
	}
	b := &builder{deps: deps}

	var plan []pipeline.Stage
	if cfg.InstallerDMG != "" {
		plan = append(plan, pipeline.Func{Title: "Mounting the installer image...", Fn: b.mountInstaller})
	}
	plan = append(plan,
		pipeline.Func{Title: "Checking macOS versions...", Fn: b.checkVersions},
		pipeline.Func{Title: "Creating image from installer app...", Fn: b.createImage},
	)
	switch {
	case cfg.BoxFormat.IsVMware():
		plan = append(plan,
			pipeline.Func{Title: "Creating VMDK from image...", Fn: b.createVMDK},
			pipeline.Func{Title: "Creating box from VMDK...", Fn: b.boxFromVMDK},
		)
	case cfg.BoxFormat == config.Parallels:
		plan = append(plan,
			pipeline.Func{Title: "Creating HDD from image...", Fn: b.createHDD},
			pipeline.Func{Title: "Creating box from HDD...", Fn: b.boxFromHDD},
		)
	case cfg.BoxFormat == config.VirtualBox:
		plan = append(plan,
			pipeline.Func{Title: "Creating VDI from image...", Fn: b.createVDI},
			pipeline.Func{Title: "Creating box from VDI...", Fn: b.boxFromVDI},
		)
	case cfg.BoxFormat == config.Libvirt:
		plan = append(plan,
			pipeline.Func{Title: "Creating QCOW2 from image...", Fn: b.createQCOW2},
			pipeline.Func{Title: "Creating box from QCOW2...", Fn: b.boxFromQCOW2},
		)
	}
	if cfg.OutputDir != "" {
		plan = append(plan, pipeline.Func{Title: "Packaging the box...", Fn: b.packageBox})
	}
	return append(plan, pipeline.Func{Title: "Installing the box...", Fn: b.installBox})
}

func (b *builder) disk(bc *pipeline.BuildContext, image string) *disk.VirtualDisk {
	opts := []disk.Option{disk.WithVerbose(bc.Config.Verbose), disk.WithLogger(bc.Log)}
	return disk.New(image, bc.Runner, append(opts, b.deps.DiskOptions...)...)
}

// attach attaches image after registering its force-detach with col.
func (b *builder) attach(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, image string) (*disk.VirtualDisk, error) {
	d := b.disk(bc, image)
	col.OnCleanup("detach "+filepath.Base(image), func() error {
		d.Detach()
		return nil
	})
	if err := d.Attach(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// attachMounted attaches image and mounts its volume at at with on-disk
// ownership kept.
func (b *builder) attachMounted(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, image, at string) (*disk.VirtualDisk, error) {
	if err := os.MkdirAll(at, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mount point: %w", err)
	}
	d, err := b.attach(ctx, bc, col, image)
	if err != nil {
		return nil, err
	}
	if err := d.Mount(ctx, disk.MountOptions{At: at, Owners: true}); err != nil {
		return nil, err
	}
	return d, nil
}

// mountTools attaches a tools image and mounts it at at. The ISO 9660
// listing is only a hint: hybrid images keep their long names in the HFS or
// Joliet trees, so a miss is logged rather than fatal.
func (b *builder) mountTools(ctx context.Context, bc *pipeline.BuildContext, col *collector.Collector, iso string, k tools.Kind, at string) (*disk.VirtualDisk, error) {
	if l, err := tools.Verify(iso, k); err != nil {
		bc.Log.Warn("could not confirm tools image contents", "image", iso, "err", err)
	} else {
		bc.Log.Debug("tools image", "label", l.Label)
	}
	if err := os.MkdirAll(at, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create mount point: %w", err)
	}
	d, err := b.attach(ctx, bc, col, iso)
	if err != nil {
		return nil, err
	}
	if err := d.Mount(ctx, disk.MountOptions{At: at}); err != nil {
		return nil, err
	}
	return d, nil
}

// copyImage clones an input artifact into a stage temp dir.
func copyImage(ctx context.Context, bc *pipeline.BuildContext, from, to string) error {
	return bc.Log.Step("Copying the image...", func() error {
		return task.CopyFiles(ctx, bc.Runner, []string{from}, to, false)
	})
}

// reattach ejects d and attaches it again so the volume is no longer in use
// while the whole disk is converted.
func reattach(ctx context.Context, bc *pipeline.BuildContext, d *disk.VirtualDisk) error {
	return bc.Log.Step("Reattaching the image...", func() error {
		if err := d.Eject(ctx); err != nil {
			return err
		}
		return d.Attach(ctx)
	})
}

// deliver hands path to the build owner and moves it to dst.
func deliver(ctx context.Context, bc *pipeline.BuildContext, path, dst string, recursive bool) error {
	own := bc.Owner.Chown
	if recursive {
		own = bc.Owner.ChownAll
	}
	if err := own(path); err != nil {
		return err
	}
	return move(ctx, bc.Runner, path, dst)
}

// move renames from to to, falling back to mv when they are on different
// filesystems.
func move(ctx context.Context, r task.Runner, from, to string) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("failed to move %s: %w", from, err)
	}
	return r.Run(ctx, task.Command(mv, from, to))
}

// writeFile writes data to path, creating missing parents, and sets mode
// regardless of the umask.
func writeFile(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	return nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// quiet returns flag unless the build is verbose.
func quiet(bc *pipeline.BuildContext, flag ...string) []string {
	if bc.Config.Verbose {
		return nil
	}
	return flag
}

// product runs a VM product CLI with its stdout silenced.
func product(ctx context.Context, bc *pipeline.BuildContext, path string, args ...string) error {
	return bc.Runner.Run(ctx, task.Command(path, args...).Silenced())
}
