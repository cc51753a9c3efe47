// Package output renders the Vagrant box cache for the boxes command.
package output

import (
	"fmt"

	"github.com/jbweber/boxforge/internal/naming"
)

// Format names an output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

// Formatter renders installed boxes.
type Formatter interface {
	FormatBoxes(boxes []naming.InstalledBox) (string, error)
}

// Options selects the encoding.
type Options struct {
	Format Format
	// NoHeaders drops the header row of the table.
	NoHeaders bool
}

// NewFormatter returns the Formatter for opts.Format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	}
	return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
}

// ValidateFormat rejects names NewFormatter does not know.
func ValidateFormat(format string) error {
	switch Format(format) {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	}
	return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
}
