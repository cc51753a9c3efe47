package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/boxforge/internal/naming"
)

// TableFormatter formats boxes as a human-readable table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatBoxes formats a list of boxes as a table.
func (f *TableFormatter) FormatBoxes(boxes []naming.InstalledBox) (string, error) {
	if len(boxes) == 0 {
		return "No boxes found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tVERSION\tPROVIDER\tAGE")
	}

	for _, b := range boxes {
		age := "-"
		if !b.Installed.IsZero() {
			age = formatAge(time.Since(b.Installed))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.Version, b.Provider, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge renders how long ago a box was added. Boxes are rebuilt per
// macOS release, so the finest unit is the hour.
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}
	hours := int(d.Hours())
	days := hours / 24
	switch {
	case hours < 1:
		return "<1h"
	case hours < 24:
		return fmt.Sprintf("%dh", hours)
	case days < 14:
		return fmt.Sprintf("%dd", days)
	case days < 60:
		return fmt.Sprintf("%dw", days/7)
	case days < 365:
		return fmt.Sprintf("%dmo", days/30)
	}
	return fmt.Sprintf("%dy", days/365)
}
