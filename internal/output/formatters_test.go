package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/boxforge/internal/naming"
)

func testBoxes() []naming.InstalledBox {
	return []naming.InstalledBox{
		{
			Name:      "macinbox",
			Version:   "10.15.1",
			Provider:  "vmware_desktop",
			Path:      "/Users/test/.vagrant.d/boxes/macinbox/10.15.1/vmware_desktop",
			Installed: time.Now().Add(-5 * time.Hour),
		},
		{
			Name:     "macinbox",
			Version:  "11",
			Provider: "libvirt",
			Path:     "/Users/test/.vagrant.d/boxes/macinbox/11/libvirt",
		},
	}
}

func TestTableFormatter_FormatBoxes(t *testing.T) {
	f := &TableFormatter{}
	out, err := f.FormatBoxes(testBoxes())
	if err != nil {
		t.Fatalf("FormatBoxes() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	if fields := strings.Fields(lines[0]); !cmp.Equal(fields, []string{"NAME", "VERSION", "PROVIDER", "AGE"}) {
		t.Errorf("unexpected header %v", fields)
	}
	if fields := strings.Fields(lines[1]); !cmp.Equal(fields, []string{"macinbox", "10.15.1", "vmware_desktop", "5h"}) {
		t.Errorf("unexpected first row %v", fields)
	}
	if fields := strings.Fields(lines[2]); !cmp.Equal(fields, []string{"macinbox", "11", "libvirt", "-"}) {
		t.Errorf("unexpected second row %v", fields)
	}
}

func TestTableFormatter_NoHeadersAndEmpty(t *testing.T) {
	out, err := (&TableFormatter{NoHeaders: true}).FormatBoxes(testBoxes())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "NAME") {
		t.Errorf("expected no header, got:\n%s", out)
	}

	out, err = (&TableFormatter{}).FormatBoxes(nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "No boxes found\n" {
		t.Errorf("unexpected empty output %q", out)
	}
}

func TestYAMLFormatter_FormatBoxes(t *testing.T) {
	out, err := (&YAMLFormatter{}).FormatBoxes(testBoxes())
	if err != nil {
		t.Fatalf("FormatBoxes() error = %v", err)
	}

	var got []map[string]any
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if len(got) != 2 || got[1]["provider"] != "libvirt" || got[0]["version"] != "10.15.1" {
		t.Errorf("unexpected YAML document: %v", got)
	}

	if out, _ := (&YAMLFormatter{}).FormatBoxes(nil); out != "[]\n" {
		t.Errorf("unexpected empty output %q", out)
	}
}

func TestJSONFormatter_FormatBoxes(t *testing.T) {
	out, err := (&JSONFormatter{}).FormatBoxes(testBoxes())
	if err != nil {
		t.Fatalf("FormatBoxes() error = %v", err)
	}

	var got []naming.InstalledBox
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 2 || got[0].Provider != "vmware_desktop" || got[1].Path != "/Users/test/.vagrant.d/boxes/macinbox/11/libvirt" {
		t.Errorf("unexpected JSON document: %+v", got)
	}

	if out, _ := (&JSONFormatter{}).FormatBoxes(nil); out != "[]\n" {
		t.Errorf("unexpected empty output %q", out)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"negative", -time.Minute, "unknown"},
		{"30 seconds", 30 * time.Second, "<1h"},
		{"59 minutes", 59 * time.Minute, "<1h"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"23 hours", 23 * time.Hour, "23h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"13 days", 13 * 24 * time.Hour, "13d"},
		{"2 weeks", 14 * 24 * time.Hour, "2w"},
		{"50 days", 50 * 24 * time.Hour, "7w"},
		{"90 days", 90 * 24 * time.Hour, "3mo"},
		{"400 days", 400 * 24 * time.Hour, "1y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatAge(tt.duration)
			if got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
