package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/jbweber/boxforge/internal/config"
)

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	bindBuildFlags(fs, config.Defaults())
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.yaml")
	doc := "box_format: parallels\nbox_name: from-file\nmemory_mb: 4096\nhidpi: false\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(parseFlags(t, "--name", "from-flag", "--cpu", "4"), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.BoxName != "from-flag" {
		t.Errorf("BoxName = %q, want the flag value", cfg.BoxName)
	}
	if cfg.CPUCount != 4 {
		t.Errorf("CPUCount = %d, want 4", cfg.CPUCount)
	}
	if cfg.BoxFormat != config.Parallels || cfg.MemoryMB != 4096 || cfg.HiDPI {
		t.Errorf("file values lost: format=%s memory=%d hidpi=%v", cfg.BoxFormat, cfg.MemoryMB, cfg.HiDPI)
	}
	if cfg.DiskSizeGB != 64 || !cfg.GUI {
		t.Errorf("defaults lost: disk=%d gui=%v", cfg.DiskSizeGB, cfg.GUI)
	}
}

func TestLoadConfig_UnchangedFlagsKeepFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.yaml")
	if err := os.WriteFile(path, []byte("gui: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(parseFlags(t, "--hidpi=false"), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GUI {
		t.Error("GUI reset to the flag default")
	}
	if cfg.HiDPI {
		t.Error("HiDPI flag ignored")
	}
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.yaml")
	if err := os.WriteFile(path, []byte("no_such_option: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(parseFlags(t), path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestResolveBoxesDir(t *testing.T) {
	tests := []struct {
		name string
		flag string
		env  config.Environment
		want string
	}{
		{"flag", "/srv/boxes", config.Environment{VagrantHome: "/vh"}, "/srv/boxes"},
		{"vagrant home", "", config.Environment{VagrantHome: "/vh", UserHome: "/home/a"}, "/vh/boxes"},
		{"user home", "", config.Environment{UserHome: "/home/a"}, "/home/a/.vagrant.d/boxes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveBoxesDir(tt.flag, tt.env); got != tt.want {
				t.Errorf("resolveBoxesDir() = %q, want %q", got, tt.want)
			}
		})
	}
}
