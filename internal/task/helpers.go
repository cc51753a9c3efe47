package task

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/jbweber/boxforge/internal/progress"
)

// ParseFunc extracts a percentage from one line of command output.
type ParseFunc func(line string) (percent float64, ok bool)

var (
	installerProgressRe = regexp.MustCompile(`^installer:%(.*)$`)
	qemuProgressRe      = regexp.MustCompile(`\(\s*([0-9]+(?:\.[0-9]+)?)/100%\)`)
	vboxProgressRe      = regexp.MustCompile(`([0-9]+)%`)
)

// InstallerProgress parses the "installer:%12.5" lines of installer -verboseR.
func InstallerProgress(line string) (float64, bool) {
	m := installerProgressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// QemuImgProgress parses the "(12.34/100%)" updates of qemu-img -p.
func QemuImgProgress(line string) (float64, bool) {
	m := qemuProgressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// VBoxManageProgress parses the "0%...10%...20%" output of VBoxManage,
// reporting the last percentage on the line.
func VBoxManageProgress(line string) (float64, bool) {
	all := vboxProgressRe.FindAllStringSubmatch(line, -1)
	if len(all) == 0 {
		return 0, false
	}
	pct, err := strconv.ParseFloat(all[len(all)-1][1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

// RunWithProgress streams c through r and redraws rep for every line parse
// recognizes.
func RunWithProgress(ctx context.Context, r Runner, rep *progress.Reporter, activity string, c Cmd, parse ParseFunc) error {
	rep.Start(activity)
	defer rep.Finish()
	return r.RunStreaming(ctx, c, func(line string) {
		if pct, ok := parse(line); ok {
			rep.Update(pct)
		}
	})
}

// CopyFiles copies from into to with cp, trying a clone (cp -c) first and
// falling back to a regular copy when cloning is not supported.
func CopyFiles(ctx context.Context, r Runner, from []string, to string, recursive bool) error {
	var flags []string
	if recursive {
		flags = append(flags, "-R")
	}
	args := append(append(flags, from...), to)

	clone := Command("/bin/cp", append([]string{"-c"}, args...)...)
	clone.QuietStderr = true
	if err := r.Run(ctx, clone); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return err
	}
	return r.Run(ctx, Command("/bin/cp", args...))
}
