// Package naming provides the naming conventions shared by the build and
// the Vagrant box cache: where an installed box lives, which version a new
// install gets, and how build artifacts are named.
//
// The cache layout is Vagrant's own:
//
//	<boxes_dir>/<name>/<version>/<provider>/{metadata.json,Vagrantfile,...}
package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrBoxExists is returned when the install target is already populated.
var ErrBoxExists = errors.New("box already exists")

// vagrantSlash is how Vagrant stores a "/" of an org/name box in the cache.
const vagrantSlash = "-VAGRANTSLASH-"

// EscapeBoxName returns the cache directory name for a box.
func EscapeBoxName(name string) string {
	return strings.ReplaceAll(name, "/", vagrantSlash)
}

// UnescapeBoxName reverses EscapeBoxName.
func UnescapeBoxName(dir string) string {
	return strings.ReplaceAll(dir, vagrantSlash, "/")
}

// BoxRoot returns the directory holding every version of a box.
func BoxRoot(boxesDir, name string) string {
	return filepath.Join(boxesDir, EscapeBoxName(name))
}

// BoxDir returns the directory of one version and provider of a box.
func BoxDir(boxesDir, name, version, provider string) string {
	return filepath.Join(BoxRoot(boxesDir, name), version, provider)
}

// ArchiveName returns the file name of a packaged box.
func ArchiveName(name string) string {
	return EscapeBoxName(name) + ".box"
}

// BuildDomainName returns a libvirt domain name for one build of a box that
// does not collide with other builds on the same daemon.
func BuildDomainName(box string) string {
	return fmt.Sprintf("boxforge-%s-%s", EscapeBoxName(box), uuid.New().String()[:8])
}

// NextVersion returns one more than the highest leading integer of the
// installed versions of a box, or 0 when none is installed. Versions
// without a provider directory are ignored.
func NextVersion(boxesDir, name string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(BoxRoot(boxesDir, name), "*", "*"))
	if err != nil {
		return 0, fmt.Errorf("failed to scan installed versions: %w", err)
	}
	next := 0
	for _, m := range matches {
		if v := leadingInt(filepath.Base(filepath.Dir(m))); v+1 > next {
			next = v + 1
		}
	}
	return next, nil
}

// leadingInt parses the digits at the start of s; "10.15.1" gives 10 and
// anything without leading digits gives 0.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// ResolveTarget picks the install directory for a box. The preferred
// version is used when it is set and free; otherwise the next numeric
// version is taken. It fails with ErrBoxExists if that is taken as well.
func ResolveTarget(boxesDir, name, version, provider string) (dir, resolved string, err error) {
	resolved = version
	dir = BoxDir(boxesDir, name, resolved, provider)
	if resolved == "" || exists(dir) {
		next, err := NextVersion(boxesDir, name)
		if err != nil {
			return "", "", err
		}
		resolved = strconv.Itoa(next)
		dir = BoxDir(boxesDir, name, resolved, provider)
	}
	if exists(dir) {
		return "", "", fmt.Errorf("%s: %w", dir, ErrBoxExists)
	}
	return dir, resolved, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// InstalledBox is one version and provider found in the box cache.
type InstalledBox struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Provider string `json:"provider" yaml:"provider"`
	Path     string `json:"path" yaml:"path"`
	// Installed is the modification time of the provider directory.
	Installed time.Time `json:"installed" yaml:"installed"`
}

// ListBoxes walks the box cache. Entries are sorted by name, then version,
// then provider.
func ListBoxes(boxesDir string) ([]InstalledBox, error) {
	matches, err := filepath.Glob(filepath.Join(boxesDir, "*", "*", "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", boxesDir, err)
	}
	var boxes []InstalledBox
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(boxesDir, m)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		boxes = append(boxes, InstalledBox{
			Name:      UnescapeBoxName(parts[0]),
			Version:   parts[1],
			Provider:  parts[2],
			Path:      m,
			Installed: info.ModTime(),
		})
	}
	sort.Slice(boxes, func(i, j int) bool {
		a, b := boxes[i], boxes[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Provider < b.Provider
	})
	return boxes, nil
}
