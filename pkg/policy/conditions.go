package policy

import (
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

var weekdayNames = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// EvaluateConditions returns true iff every key present in conditions
// passes. An empty or nil conditions map always passes (spec.md §4.5).
// now is the UTC reference instant; tz is parsed and stored but ignored at
// evaluation time (reserved for future local-time support).
func EvaluateConditions(conditions map[string]any, agent *auth.Agent, now time.Time) bool {
	if len(conditions) == 0 {
		return true
	}
	now = now.UTC()

	if raw, ok := conditions["env"]; ok {
		if !stringListContains(raw, agent.Environment) {
			return false
		}
	}

	if raw, ok := conditions["time_range"]; ok {
		tr, ok := raw.(map[string]any)
		if ok {
			startH, startM := parseHHMM(stringField(tr, "start", "00:00"))
			endH, endM := parseHHMM(stringField(tr, "end", "23:59"))
			current := now.Hour()*60 + now.Minute()
			start := startH*60 + startM
			end := endH*60 + endM
			if current < start || current > end {
				return false
			}
		}
	}

	if raw, ok := conditions["day_of_week"]; ok {
		today := weekdayNames[weekdayIndex(now.Weekday())]
		if !stringListContains(raw, today) {
			return false
		}
	}

	return true
}

// weekdayIndex maps time.Weekday (Sunday=0) to our Mon-first index.
func weekdayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func stringListContains(raw any, want string) bool {
	switch v := raw.(type) {
	case string:
		return v == want
	case []string:
		for _, s := range v {
			if s == want {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func stringField(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// parseHHMM parses "HH:MM" into (hour, minute); malformed input defaults to (0, 0).
func parseHHMM(value string) (int, int) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return h, m
}
