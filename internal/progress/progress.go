// Package progress draws a single-line progress bar that is redrawn in place.
//
// The same Reporter serves long-running commands that print their own
// percentages (installer, qemu-img) and raw byte copies (box packaging).
package progress

import (
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Terminal control sequences.
const (
	ClearLine  = "\r\x1b[K"
	HideCursor = "\x1b[?25l"
	ShowCursor = "\x1b[?25h"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

var spinner = []string{"|", "/", "-", `\`}

// Bar renders the progress line for activity at percent complete on a
// terminal of the given width. frame selects the spinner glyph. The bar is
// omitted once the rounded percentage reaches 100.
func Bar(activity string, percent float64, width int, frame int) string {
	columns := width - 8
	rounded := int(math.Round(percent))
	header := activity + ": " + strconv.Itoa(rounded) + "% done "
	if rounded >= 100 {
		return header
	}

	available := columns - utf8.RuneCountInString(header) - 2
	if available < 0 {
		available = 0
	}
	filled := int(percent * float64(available) / 100.0)
	if filled < 0 {
		filled = 0
	}
	if filled > available {
		filled = available
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("[")
	b.WriteString(strings.Repeat("#", filled))
	if remainder := available - filled; remainder >= 1 {
		b.WriteString(spinner[((frame%len(spinner))+len(spinner))%len(spinner)])
		b.WriteString(strings.Repeat(" ", remainder-1))
	}
	b.WriteString("]")
	return b.String()
}

// Reporter redraws a progress line on w.
type Reporter struct {
	w        io.Writer
	width    func() int
	style    func(string) string
	activity string
	frame    int
	active   bool
}

// NewReporter returns a Reporter writing to w. width reports the current
// terminal width; style decorates the rendered line (for color) and may be nil.
func NewReporter(w io.Writer, width func() int, style func(string) string) *Reporter {
	if width == nil {
		width = func() int { return DefaultWidth }
	}
	if style == nil {
		style = func(s string) string { return s }
	}
	return &Reporter{w: w, width: width, style: style}
}

// TerminalWidth returns a width function for f, falling back to DefaultWidth.
func TerminalWidth(f *os.File) func() int {
	return func() int {
		w, _, err := term.GetSize(int(f.Fd()))
		if err != nil || w <= 0 {
			return DefaultWidth
		}
		return w
	}
}

// Start hides the cursor and draws activity at 0%.
func (r *Reporter) Start(activity string) {
	r.activity = activity
	r.frame = 0
	r.active = true
	_, _ = io.WriteString(r.w, HideCursor)
	r.draw(0)
}

// Update redraws the line at percent.
func (r *Reporter) Update(percent float64) {
	if !r.active {
		return
	}
	r.frame++
	r.draw(percent)
}

// Finish ends the line and restores the cursor.
func (r *Reporter) Finish() {
	if !r.active {
		return
	}
	r.active = false
	_, _ = io.WriteString(r.w, ShowCursor+"\n")
}

func (r *Reporter) draw(percent float64) {
	line := Bar(r.activity, percent, r.width(), r.frame)
	_, _ = io.WriteString(r.w, ClearLine+r.style(line))
}

// chunkSize is the read size of Copy.
const chunkSize = 1 << 20

// Copy streams total bytes from src to dst in 1 MiB chunks, updating r after
// every chunk with the percentage written, rounded to one decimal.
func Copy(dst io.Writer, src io.Reader, total int64, r *Reporter, activity string) (int64, error) {
	r.Start(activity)
	defer r.Finish()

	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			r.Update(Percent(written, total))
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Percent returns done/total as a percentage rounded to one decimal.
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(done)/float64(total)*1000) / 10
}
