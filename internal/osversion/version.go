// Package osversion parses macOS version strings and maps them to the
// virtual hardware each VM product should present.
package osversion

import (
	"strconv"
	"strings"
)

// Version is a dotted macOS version such as "10.15.7". Components that are
// missing or not numeric read as zero.
type Version struct {
	raw   string
	Major int
	Minor int
	Patch int
}

// Parse parses s leniently.
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	v := Version{raw: s}
	parts := strings.Split(s, ".")
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		switch i {
		case 0:
			v.Major = n
		case 1:
			v.Minor = n
		case 2:
			v.Patch = n
		}
	}
	return v
}

func (v Version) String() string {
	if v.raw != "" {
		return v.raw
	}
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// IsZero reports whether v carries no version at all.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0
}

// DarwinMajor is the Darwin kernel major version of the release.
func (v Version) DarwinMajor() int {
	switch {
	case v.Major == 10:
		return v.Minor + 4
	case v.Major >= 11:
		return v.Major + 9
	default:
		return 0
	}
}

// SameRelease reports whether v and o share major and minor components.
func (v Version) SameRelease(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor
}

// Compare orders versions by major, minor then patch.
func (v Version) Compare(o Version) int {
	for _, d := range [...]int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}
