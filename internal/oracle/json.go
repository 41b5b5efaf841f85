package oracle

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseJSONResponse parses a JSON object from a model response, stripping
// markdown code fences when present. Returns nil on any parse failure.
func parseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil
	}
	return result
}

// parseScore extracts a float from a model response that should contain a
// bare number, tolerating surrounding prose.
func parseScore(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f, true
	}
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ".,:;")
		if f, err := strconv.ParseFloat(field, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
