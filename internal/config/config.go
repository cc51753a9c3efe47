// Package config holds the build options, their defaults, and the YAML file
// overlay that sits between the defaults and the command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// BoxFormat names the provider a box is built for.
type BoxFormat string

const (
	VMwareFusion  BoxFormat = "vmware_fusion"
	VMwareDesktop BoxFormat = "vmware_desktop"
	Parallels     BoxFormat = "parallels"
	VirtualBox    BoxFormat = "virtualbox"
	Libvirt       BoxFormat = "libvirt"
)

// Formats lists every supported box format.
var Formats = []BoxFormat{VMwareFusion, VMwareDesktop, Parallels, VirtualBox, Libvirt}

// IsVMware reports whether f is one of the VMware providers.
func (f BoxFormat) IsVMware() bool {
	return f == VMwareFusion || f == VMwareDesktop
}

// Known reports whether f is a supported format.
func (f BoxFormat) Known() bool {
	for _, k := range Formats {
		if f == k {
			return true
		}
	}
	return false
}

// BuildConfig is every option of one build.
type BuildConfig struct {
	BoxFormat BoxFormat `yaml:"box_format"`
	BoxName   string    `yaml:"box_name"`

	DiskSizeGB int    `yaml:"disk_size_gb"`
	FSType     string `yaml:"fstype"`
	MemoryMB   int    `yaml:"memory_mb"`
	CPUCount   int    `yaml:"cpu_count"`

	ShortName     string `yaml:"short_name"`
	FullName      string `yaml:"full_name,omitempty"`      // defaults to the capitalized short name
	Password      string `yaml:"password,omitempty"`       // defaults to the short name
	AuthorizedKey string `yaml:"authorized_key,omitempty"` // public key installed for the user

	Installer     string `yaml:"installer"`
	InstallerDMG  string `yaml:"installer_dmg,omitempty"`
	VMwareApp     string `yaml:"vmware"`
	ParallelsApp  string `yaml:"parallels"`
	UserScript    string `yaml:"user_script,omitempty"`
	HardwareTable string `yaml:"hardware_table,omitempty"`

	VMwareTools   bool `yaml:"vmware_tools"`
	AutoLogin     bool `yaml:"auto_login"`
	SkipMiniBuddy bool `yaml:"skip_mini_buddy"`
	HiDPI         bool `yaml:"hidpi"`
	Fullscreen    bool `yaml:"fullscreen"`
	GUI           bool `yaml:"gui"`
	SIPEnabled    bool `yaml:"sip_enabled"`
	UseQemu       bool `yaml:"use_qemu"`

	Verbose bool `yaml:"verbose"`
	Debug   bool `yaml:"debug"`

	BoxesDir      string `yaml:"boxes_dir,omitempty"`  // defaults to the vagrant boxes dir of the sudo user
	OutputDir     string `yaml:"output_dir,omitempty"` // when set, a .box archive is written here
	LibvirtSocket string `yaml:"libvirt_socket,omitempty"`

	// SudoUser owns everything the build produces. It comes from the
	// environment, never from the file.
	SudoUser string `yaml:"-"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *BuildConfig {
	return &BuildConfig{
		BoxFormat:     VMwareDesktop,
		BoxName:       "macinbox",
		DiskSizeGB:    64,
		FSType:        "APFS",
		MemoryMB:      2048,
		CPUCount:      2,
		ShortName:     "vagrant",
		Installer:     "/Applications/Install macOS Catalina.app",
		VMwareApp:     "/Applications/VMware Fusion.app",
		ParallelsApp:  "/Applications/Parallels Desktop.app",
		VMwareTools:   true,
		AutoLogin:     true,
		SkipMiniBuddy: true,
		HiDPI:         true,
		Fullscreen:    true,
		GUI:           true,
		SIPEnabled:    true,
		LibvirtSocket: "/var/run/libvirt/libvirt-sock",
	}
}

// LoadFromFile overlays the YAML document at path onto c. Keys absent from
// the file keep their current value; unknown keys are rejected.
func (c *BuildConfig) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	if err := c.Load(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Load overlays the YAML document read from r onto c.
func (c *BuildConfig) Load(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Environment is the part of the process environment the build depends on.
type Environment struct {
	SudoUser    string
	VagrantHome string
	// UserHome is the home directory of SudoUser.
	UserHome string
}

// EnvironmentFromOS reads SUDO_USER and VAGRANT_HOME and resolves the home
// directory of the sudo user.
func EnvironmentFromOS() Environment {
	env := Environment{
		SudoUser:    os.Getenv("SUDO_USER"),
		VagrantHome: os.Getenv("VAGRANT_HOME"),
	}
	if env.SudoUser != "" {
		if u, err := user.Lookup(env.SudoUser); err == nil {
			env.UserHome = u.HomeDir
		}
	}
	return env
}

// Normalize trims user input, fills derived defaults and makes paths
// absolute. It is called once, after the flags were applied.
func (c *BuildConfig) Normalize(env Environment) {
	c.BoxName = strings.TrimSpace(c.BoxName)
	c.ShortName = strings.TrimSpace(c.ShortName)
	c.FSType = strings.TrimSpace(c.FSType)
	c.AuthorizedKey = strings.TrimSpace(c.AuthorizedKey)
	c.BoxFormat = BoxFormat(strings.ToLower(strings.TrimSpace(string(c.BoxFormat))))

	if c.FullName == "" && c.ShortName != "" {
		c.FullName = strings.ToUpper(c.ShortName[:1]) + c.ShortName[1:]
	}
	if c.Password == "" {
		c.Password = c.ShortName
	}

	c.SudoUser = env.SudoUser
	if c.BoxesDir == "" {
		switch {
		case env.VagrantHome != "":
			c.BoxesDir = filepath.Join(env.VagrantHome, "boxes")
		case env.UserHome != "":
			c.BoxesDir = filepath.Join(env.UserHome, ".vagrant.d", "boxes")
		}
	}

	for _, p := range []*string{
		&c.Installer, &c.InstallerDMG, &c.VMwareApp, &c.ParallelsApp,
		&c.UserScript, &c.HardwareTable, &c.BoxesDir, &c.OutputDir,
	} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}

	// debug implies verbose
	if c.Debug {
		c.Verbose = true
	}
}

var shortNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)

// Validate checks option values. It does not look at the host; that is
// preflight's job.
func (c *BuildConfig) Validate() error {
	if !c.BoxFormat.Known() {
		return invalid("unsupported box format %q (want one of %s)", c.BoxFormat, formatList())
	}
	if c.BoxName == "" {
		return invalid("box name is required")
	}
	if strings.ContainsRune(c.BoxName, '/') {
		return invalid("box name must not contain '/', got %q", c.BoxName)
	}
	if c.DiskSizeGB <= 0 {
		return invalid("disk size must be > 0, got %d", c.DiskSizeGB)
	}
	if c.MemoryMB <= 0 {
		return invalid("memory size must be > 0, got %d", c.MemoryMB)
	}
	if c.CPUCount <= 0 {
		return invalid("cpu count must be > 0, got %d", c.CPUCount)
	}
	switch c.FSType {
	case "APFS", "HFS+", "JHFS+":
	default:
		return invalid("unsupported filesystem type %q (want APFS, HFS+ or JHFS+)", c.FSType)
	}
	if !shortNamePattern.MatchString(c.ShortName) {
		return invalid("short name must match %s, got %q", shortNamePattern, c.ShortName)
	}
	if c.AuthorizedKey != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(c.AuthorizedKey)); err != nil {
			return fmt.Errorf("%w: authorized key is not a valid SSH public key: %w", ErrInvalid, err)
		}
	}
	if c.UseQemu && !c.BoxFormat.IsVMware() {
		return invalid("use_qemu is only supported with the vmware formats, not %s", c.BoxFormat)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
