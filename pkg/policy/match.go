package policy

import (
	"regexp"
	"strings"
	"time"

	"github.com/wisbric/agentguard/internal/auth"
)

// MatchesRule reports whether action/resource satisfies rule's action and
// resource globs, including its optional conditions block (spec.md §4.4).
func MatchesRule(action, resource string, rule Rule, agent *auth.Agent, now time.Time) bool {
	ruleResource := rule.Resource
	if ruleResource == "" {
		ruleResource = "*"
	}

	normalizedAction := NormalizeAction(action)
	normalizedRule := NormalizeAction(rule.Action)

	matched := false

	if globMatch(normalizedAction, normalizedRule) {
		matched = resourceMatches(resource, ruleResource)
	} else if !strings.Contains(normalizedAction, ":") && strings.Contains(normalizedRule, ":") {
		ruleVerb := strings.SplitN(normalizedRule, ":", 2)[0]
		if normalizedAction == ruleVerb || globMatch(normalizedAction, ruleVerb) {
			matched = resourceMatches(resource, ruleResource)
		}
	}

	if !matched {
		return false
	}

	return EvaluateConditions(rule.Conditions, agent, now)
}

func resourceMatches(resource, ruleResource string) bool {
	if ruleResource == "" || ruleResource == "*" {
		return true
	}
	return globMatch(strings.ToLower(resource), strings.ToLower(ruleResource))
}

// globMatch implements fnmatch-style "*"/"?" matching where "*" matches any
// sequence of characters including "/" — unlike filepath.Match, which
// treats "/" as a path separator "*" can't cross. Resource patterns such as
// "s3://bucket/*" rely on "*" spanning slashes, so a true fnmatch
// translation is required rather than the stdlib path matchers.
func globMatch(s, pattern string) bool {
	re, err := regexp.Compile(fnmatchToRegexp(pattern))
	if err != nil {
		return s == pattern
	}
	return re.MatchString(s)
}

// fnmatchToRegexp translates an fnmatch-style glob ("*", "?", literals) into
// an anchored regular expression, mirroring Python's fnmatch.translate.
func fnmatchToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}
