package osversion

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only hardware table schema understood.
const SchemaVersion = 1

//go:embed hardware.yaml
var defaultTable []byte

// Hardware is the resolved virtual hardware for one guest version.
type Hardware struct {
	Rule             string `yaml:"rule" json:"rule"`
	VMwareHWVersion  int    `yaml:"vmware_hw_version" json:"vmware_hw_version"`
	VMwareGuestOS    string `yaml:"vmware_guest_os" json:"vmware_guest_os"`
	VirtualBoxOSType string `yaml:"virtualbox_ostype" json:"virtualbox_ostype"`
}

// Settings are the overridable fields of a rule or the default.
type Settings struct {
	VMwareHWVersion  int    `yaml:"vmware_hw_version,omitempty"`
	VMwareGuestOS    string `yaml:"vmware_guest_os,omitempty"`
	VirtualBoxOSType string `yaml:"virtualbox_ostype,omitempty"`
}

// Rule applies Settings to versions v with Min <= v < Below. Empty bounds are
// open.
type Rule struct {
	Name     string `yaml:"name"`
	Min      string `yaml:"min,omitempty"`
	Below    string `yaml:"below,omitempty"`
	Settings `yaml:",inline"`
}

// Table maps macOS versions to virtual hardware.
type Table struct {
	Schema  int       `yaml:"schema"`
	Default *Settings `yaml:"default"`
	Rules   []Rule    `yaml:"rules"`
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := LoadTable(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("built-in hardware table: %v", err))
	}
	return t
}

// LoadTableFile reads a table from path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hardware table: %w", err)
	}
	defer f.Close()
	t, err := LoadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadTable decodes and validates a table. Unknown keys are rejected.
func LoadTable(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var t Table
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("hardware table is empty")
		}
		return nil, fmt.Errorf("failed to parse hardware table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the schema version, the default entry and rule bounds.
func (t *Table) Validate() error {
	if t.Schema != SchemaVersion {
		return fmt.Errorf("unsupported hardware table schema %d (want %d)", t.Schema, SchemaVersion)
	}
	if t.Default == nil {
		return errors.New("hardware table has no default entry")
	}
	if t.Default.VMwareHWVersion <= 0 {
		return errors.New("hardware table default needs a positive vmware_hw_version")
	}
	if t.Default.VirtualBoxOSType == "" {
		return errors.New("hardware table default needs a virtualbox_ostype")
	}
	for i, r := range t.Rules {
		if r.Name == "" {
			return fmt.Errorf("hardware rule %d has no name", i)
		}
		if r.Min != "" && r.Below != "" && Parse(r.Min).Compare(Parse(r.Below)) >= 0 {
			return fmt.Errorf("hardware rule %q: empty range [%s, %s)", r.Name, r.Min, r.Below)
		}
		if r.VMwareHWVersion < 0 {
			return fmt.Errorf("hardware rule %q: negative vmware_hw_version", r.Name)
		}
	}
	return nil
}

func (r Rule) matches(v Version) bool {
	if r.Min != "" && v.Compare(Parse(r.Min)) < 0 {
		return false
	}
	if r.Below != "" && v.Compare(Parse(r.Below)) >= 0 {
		return false
	}
	return true
}

// Lookup resolves the hardware for v. The first matching rule overrides the
// fields it sets; the guest OS falls back to darwin<N>-64.
func (t *Table) Lookup(v Version) Hardware {
	hw := Hardware{
		Rule:             "default",
		VMwareHWVersion:  t.Default.VMwareHWVersion,
		VMwareGuestOS:    t.Default.VMwareGuestOS,
		VirtualBoxOSType: t.Default.VirtualBoxOSType,
	}
	for _, r := range t.Rules {
		if !r.matches(v) {
			continue
		}
		hw.Rule = r.Name
		if r.VMwareHWVersion != 0 {
			hw.VMwareHWVersion = r.VMwareHWVersion
		}
		if r.VMwareGuestOS != "" {
			hw.VMwareGuestOS = r.VMwareGuestOS
		}
		if r.VirtualBoxOSType != "" {
			hw.VirtualBoxOSType = r.VirtualBoxOSType
		}
		break
	}
	if hw.VMwareGuestOS == "" {
		hw.VMwareGuestOS = fmt.Sprintf("darwin%d-64", v.DarwinMajor())
	}
	return hw
}
