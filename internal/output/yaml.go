package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/boxforge/internal/naming"
)

// YAMLFormatter formats boxes as a YAML sequence.
type YAMLFormatter struct{}

// FormatBoxes formats a list of boxes as YAML.
func (f *YAMLFormatter) FormatBoxes(boxes []naming.InstalledBox) (string, error) {
	if len(boxes) == 0 {
		return "[]\n", nil
	}

	data, err := yaml.Marshal(boxes)
	if err != nil {
		return "", fmt.Errorf("failed to marshal boxes to YAML: %w", err)
	}

	return string(data), nil
}
