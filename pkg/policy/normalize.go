package policy

import (
	"regexp"
	"strings"
)

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// NormalizeAction folds an action string to a canonical verb:noun form so
// that "Read File", "read-file", "readFile", "read_file", and "read:file"
// all compare equal (spec.md §4.4).
func NormalizeAction(action string) string {
	action = strings.TrimSpace(action)

	if strings.Contains(action, ":") {
		return strings.ToLower(action)
	}

	action = camelBoundary.ReplaceAllString(action, "$1 $2")
	action = strings.ToLower(action)
	action = strings.ReplaceAll(action, "-", " ")
	action = strings.ReplaceAll(action, "_", " ")

	parts := strings.Fields(action)
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	return parts[0] + ":" + parts[1]
}
