// Package report implements the auditor-facing compliance summary (spec.md
// §6: "GET /reports/summary?days=").
package report

import "time"

// Overview holds the aggregate allow/deny counts for the look-back window.
type Overview struct {
	TotalActions int
	Allowed      int
	Denied       int
	AllowRate    float64
	DenyRate     float64
}

// ApprovalStats holds the aggregate approval counts for the window; Pending
// counts every request still pending, whatever its age.
type ApprovalStats struct {
	Total        int
	Pending      int
	Approved     int
	Denied       int
	ApprovalRate float64
}

// AgentActivity is one row of the top-agents-by-activity breakdown.
type AgentActivity struct {
	AgentID      string
	AgentName    string
	TotalActions int
	Allowed      int
	Denied       int
}

// DeniedAction is one row of the top-denied-actions breakdown.
type DeniedAction struct {
	Action string
	Count  int
}

// DailyCount is one day's totals in the daily breakdown.
type DailyCount struct {
	Date    time.Time
	Total   int
	Allowed int
	Denied  int
}

// Summary is the full compliance report.
type Summary struct {
	PeriodDays        int
	GeneratedAt       time.Time
	Overview          Overview
	Approvals         ApprovalStats
	TopAgents         []AgentActivity
	TopDeniedActions  []DeniedAction
	DailyBreakdown    []DailyCount
}
