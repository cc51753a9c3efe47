// Package disk manages disk images attached to the host through hdiutil and
// diskutil.
//
// A VirtualDisk moves through Unattached -> Attached -> Mounted and back.
// Device identifiers are only available between Attach and Eject/Detach;
// asking for them at any other time returns ErrNotAttached.
package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jbweber/boxforge/internal/retry"
	"github.com/jbweber/boxforge/internal/task"
)

// State is the lifecycle state of a VirtualDisk.
type State int

const (
	Unattached State = iota
	Attached
	Mounted
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Mounted:
		return "mounted"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

var (
	// ErrNotAttached is returned by operations that need a device while the
	// image is not attached.
	ErrNotAttached = errors.New("disk image is not attached")
	// ErrAlreadyAttached is returned by Attach on an attached image.
	ErrAlreadyAttached = errors.New("disk image is already attached")
	// ErrNoVolume is returned by Mount when the image has no data volume.
	ErrNoVolume = errors.New("disk image has no data volume")
	// ErrNoEFI is returned by MountEFI when the image has no EFI partition.
	ErrNoEFI = errors.New("disk image has no EFI partition")
)

const (
	hdiutil  = "/usr/bin/hdiutil"
	diskutil = "/usr/sbin/diskutil"

	// EjectAttempts and EjectDelay bound the eject retry. A disk that was just
	// written heavily often refuses the first ejects.
	EjectAttempts = 5
	EjectDelay    = 15 * time.Second

	detachTimeout = 2 * time.Minute
)

// Logger receives diagnostics about retries and swallowed failures.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string)
}

// VirtualDisk is one disk image and its attachment state.
type VirtualDisk struct {
	image   string
	runner  task.Runner
	log     Logger
	verbose bool
	exists  func(path string) bool
	eject   retry.Policy

	state      State
	devices    Devices
	efiMounted bool
}

// Option configures a VirtualDisk.
type Option func(*VirtualDisk)

// WithVerbose shows tool output instead of passing quiet flags.
func WithVerbose(verbose bool) Option {
	return func(d *VirtualDisk) { d.verbose = verbose }
}

// WithLogger reports eject retries and detach failures to l.
func WithLogger(l Logger) Option {
	return func(d *VirtualDisk) { d.log = l }
}

// WithEjectPolicy overrides the eject retry policy.
func WithEjectPolicy(p retry.Policy) Option {
	return func(d *VirtualDisk) { d.eject = p }
}

// WithDeviceCheck overrides how the attached device node is verified.
func WithDeviceCheck(exists func(path string) bool) Option {
	return func(d *VirtualDisk) { d.exists = exists }
}

// New returns an unattached handle for image.
func New(image string, r task.Runner, opts ...Option) *VirtualDisk {
	d := &VirtualDisk{
		image:  image,
		runner: r,
		exists: pathExists,
		eject:  retry.Fixed(EjectAttempts, EjectDelay),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.eject.OnRetry == nil {
		d.eject.OnRetry = func(attempt int, err error) {
			if d.log == nil {
				return
			}
			d.log.Debug("eject failed, retrying", "image", d.image, "attempt", attempt, "err", err)
			if d.verbose {
				d.log.Info(fmt.Sprintf("Eject failed: %v. Sleeping and retrying...", err))
			}
		}
	}
	return d
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Image returns the image path.
func (d *VirtualDisk) Image() string { return d.image }

// State returns the lifecycle state.
func (d *VirtualDisk) State() State { return d.state }

// Device returns the whole-disk device node.
func (d *VirtualDisk) Device() (string, error) {
	if d.state == Unattached {
		return "", fmt.Errorf("%s: %w", d.image, ErrNotAttached)
	}
	return d.devices.Disk, nil
}

// EFIDevice returns the EFI partition device node.
func (d *VirtualDisk) EFIDevice() (string, error) {
	if d.state == Unattached {
		return "", fmt.Errorf("%s: %w", d.image, ErrNotAttached)
	}
	if d.devices.EFI == "" {
		return "", fmt.Errorf("%s: %w", d.image, ErrNoEFI)
	}
	return d.devices.EFI, nil
}

// VolumeDevice returns the data volume device node.
func (d *VirtualDisk) VolumeDevice() (string, error) {
	if d.state == Unattached {
		return "", fmt.Errorf("%s: %w", d.image, ErrNotAttached)
	}
	if d.devices.Volume == "" {
		return "", fmt.Errorf("%s: %w", d.image, ErrNoVolume)
	}
	return d.devices.Volume, nil
}

func (d *VirtualDisk) quietFlag() []string {
	if d.verbose {
		return nil
	}
	return []string{"-quiet"}
}

// CreateFromFolder creates the image from the contents of srcFolder.
func (d *VirtualDisk) CreateFromFolder(ctx context.Context, srcFolder string) error {
	args := append([]string{"create", "-srcfolder", srcFolder, d.image}, d.quietFlag()...)
	return d.runner.Run(ctx, task.Command(hdiutil, args...))
}

// Create creates an empty sparse image of sizeGB with a single volume named
// "Macintosh HD" formatted as fstype.
func (d *VirtualDisk) Create(ctx context.Context, sizeGB int, fstype string) error {
	args := []string{
		"create",
		"-size", fmt.Sprintf("%dg", sizeGB),
		"-type", "SPARSE",
		"-fs", fstype,
		"-volname", "Macintosh HD",
		"-uid", "0", "-gid", "80", "-mode", "1775",
		d.image,
	}
	return d.runner.Run(ctx, task.Command(hdiutil, append(args, d.quietFlag()...)...))
}

// Convert writes the image to outfile in format (for example UDZO).
func (d *VirtualDisk) Convert(ctx context.Context, format, outfile string) error {
	args := append([]string{"convert", "-format", format, "-o", outfile, d.image}, d.quietFlag()...)
	return d.runner.Run(ctx, task.Command(hdiutil, args...))
}

// Attach attaches the image without mounting it and records its devices.
// hdiutil can exit zero without attaching anything, so the whole-disk node
// must also exist afterwards.
func (d *VirtualDisk) Attach(ctx context.Context) error {
	if d.state != Unattached {
		return fmt.Errorf("%s: %w", d.image, ErrAlreadyAttached)
	}
	out, err := d.runner.Capture(ctx, task.Command(hdiutil, "attach", d.image, "-nomount"))
	if err != nil {
		return fmt.Errorf("failed to attach %s: %w", d.image, err)
	}
	devices, err := ParseDevices(out)
	if err != nil {
		return fmt.Errorf("%s: %w", d.image, err)
	}
	if !d.exists(devices.Disk) {
		return fmt.Errorf("%s: device %s does not exist: %w", d.image, devices.Disk, ErrNoDevice)
	}
	d.devices = devices
	d.state = Attached
	return nil
}

// MountOptions controls Mount.
type MountOptions struct {
	// At is an explicit mount point; empty lets the system choose.
	At string
	// Owners keeps on-disk ownership, needed when installing files that must
	// keep their uid/gid.
	Owners bool
}

// Mount mounts the data volume.
func (d *VirtualDisk) Mount(ctx context.Context, opts MountOptions) error {
	if d.state == Unattached {
		return fmt.Errorf("cannot mount %s: %w", d.image, ErrNotAttached)
	}
	volume, err := d.VolumeDevice()
	if err != nil {
		return err
	}
	args := []string{"attach", volume, "-nobrowse"}
	if opts.At != "" {
		args = append(args, "-mountpoint", opts.At)
	}
	if opts.Owners {
		args = append(args, "-owners", "on")
	}
	if err := d.runner.Run(ctx, task.Command(hdiutil, append(args, d.quietFlag()...)...)); err != nil {
		return err
	}
	d.state = Mounted
	return nil
}

// Mountpoint asks diskutil where the data volume is mounted.
func (d *VirtualDisk) Mountpoint(ctx context.Context) (string, error) {
	volume, err := d.VolumeDevice()
	if err != nil {
		return "", err
	}
	info, err := d.runner.Capture(ctx, task.Command(diskutil, "info", volume))
	if err != nil {
		return "", err
	}
	mp := strings.TrimSpace(ParseMountPoint(info))
	if mp == "" {
		return "", fmt.Errorf("%s is not mounted", volume)
	}
	return mp, nil
}

// MountEFI mounts the EFI partition at the given mount point.
func (d *VirtualDisk) MountEFI(ctx context.Context, at string) error {
	efi, err := d.EFIDevice()
	if err != nil {
		return err
	}
	if err := d.runner.Run(ctx, task.Command(diskutil, "mount", "-mountPoint", at, efi).Silenced()); err != nil {
		return err
	}
	d.efiMounted = true
	return nil
}

// UnmountEFI unmounts the EFI partition.
func (d *VirtualDisk) UnmountEFI(ctx context.Context) error {
	efi, err := d.EFIDevice()
	if err != nil {
		return err
	}
	if err := d.runner.Run(ctx, task.Command(diskutil, "unmount", efi).Silenced()); err != nil {
		return err
	}
	d.efiMounted = false
	return nil
}

// EFIMounted reports whether the EFI partition is mounted.
func (d *VirtualDisk) EFIMounted() bool { return d.efiMounted }

// Eject unmounts and ejects the whole disk. Ejecting right after heavy
// writes tends to fail until the disk quiesces, so it is retried under the
// eject policy before the last error is returned.
func (d *VirtualDisk) Eject(ctx context.Context) error {
	device, err := d.Device()
	if err != nil {
		return fmt.Errorf("cannot eject: %w", err)
	}
	var args []string
	if !d.verbose {
		args = append(args, "quiet")
	}
	args = append(args, "eject", device)
	c := task.Command(diskutil, args...).Silenced()

	if err := retry.Do(ctx, d.eject, func(int) error { return d.runner.Run(ctx, c) }); err != nil {
		return fmt.Errorf("failed to eject %s: %w", device, err)
	}
	d.reset()
	return nil
}

// Detach force-detaches the disk if it is still attached. It is meant for
// cleanup paths, runs on its own context so it still works after the build
// was cancelled, and never fails.
func (d *VirtualDisk) Detach() {
	if d.state == Unattached || d.devices.Disk == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()

	c := task.Command(hdiutil, "detach", "-quiet", "-force", d.devices.Disk)
	c.Quiet, c.QuietStderr = true, true
	if err := d.runner.Run(ctx, c); err != nil && d.log != nil {
		d.log.Debug("force detach failed", "device", d.devices.Disk, "err", err)
	}
	d.reset()
}

func (d *VirtualDisk) reset() {
	d.devices = Devices{}
	d.state = Unattached
	d.efiMounted = false
}
