package policy

import (
	"testing"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

func TestEvaluateConditionsEmptyAlwaysPasses(t *testing.T) {
	agent := &auth.Agent{Environment: "production"}
	if !EvaluateConditions(nil, agent, time.Now()) {
		t.Error("nil conditions should always pass")
	}
	if !EvaluateConditions(map[string]any{}, agent, time.Now()) {
		t.Error("empty conditions should always pass")
	}
}

func TestEvaluateConditionsEnv(t *testing.T) {
	agent := &auth.Agent{Environment: "staging"}
	now := time.Now()

	if EvaluateConditions(map[string]any{"env": []any{"production"}}, agent, now) {
		t.Error("env mismatch should fail")
	}
	if !EvaluateConditions(map[string]any{"env": []any{"staging", "production"}}, agent, now) {
		t.Error("env match should pass")
	}
}

func TestEvaluateConditionsTimeRange(t *testing.T) {
	agent := &auth.Agent{Environment: "production"}
	within := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)

	cond := map[string]any{"time_range": map[string]any{"start": "09:00", "end": "17:00"}}

	if !EvaluateConditions(cond, agent, within) {
		t.Error("time within range should pass")
	}
	if EvaluateConditions(cond, agent, outside) {
		t.Error("time outside range should fail")
	}
}

func TestEvaluateConditionsDayOfWeek(t *testing.T) {
	agent := &auth.Agent{Environment: "production"}
	monday := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	cond := map[string]any{"day_of_week": []any{"Mon", "Tue", "Wed", "Thu", "Fri"}}

	if !EvaluateConditions(cond, agent, monday) {
		t.Error("weekday should pass")
	}
	if EvaluateConditions(cond, agent, saturday) {
		t.Error("weekend should fail")
	}
}

func TestEvaluateConditionsAllMustPass(t *testing.T) {
	agent := &auth.Agent{Environment: "production"}
	monday9am := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

	cond := map[string]any{
		"env":         []any{"production"},
		"time_range":  map[string]any{"start": "09:00", "end": "17:00"},
		"day_of_week": []any{"Mon", "Tue", "Wed", "Thu", "Fri"},
	}

	if !EvaluateConditions(cond, agent, monday9am) {
		t.Error("all conditions satisfied should pass")
	}

	condFailingOne := map[string]any{
		"env":         []any{"staging"},
		"time_range":  map[string]any{"start": "09:00", "end": "17:00"},
		"day_of_week": []any{"Mon", "Tue", "Wed", "Thu", "Fri"},
	}
	if EvaluateConditions(condFailingOne, agent, monday9am) {
		t.Error("one failing condition should fail the whole set")
	}
}
