package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/boxforge/internal/naming"
)

// JSONFormatter formats boxes as a JSON array.
type JSONFormatter struct{}

// FormatBoxes formats a list of boxes as JSON.
func (f *JSONFormatter) FormatBoxes(boxes []naming.InstalledBox) (string, error) {
	if len(boxes) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(boxes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal boxes to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
