package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const maxChartDays = 14

// Store computes compliance summaries directly from Postgres aggregates.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a report Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Summarize builds the team-scoped compliance report for the last `days`
// days (spec.md §6). An empty team means unrestricted (null-team admin/auditor).
func (s *Store) Summarize(ctx context.Context, team string, days int) (Summary, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	summary := Summary{PeriodDays: days, GeneratedAt: time.Now().UTC()}

	var err error
	if summary.Overview, err = s.overview(ctx, team, cutoff); err != nil {
		return Summary{}, err
	}
	if summary.Approvals, err = s.approvalStats(ctx, team, cutoff); err != nil {
		return Summary{}, err
	}
	if summary.TopAgents, err = s.topAgents(ctx, team, cutoff); err != nil {
		return Summary{}, err
	}
	if summary.TopDeniedActions, err = s.topDeniedActions(ctx, team, cutoff); err != nil {
		return Summary{}, err
	}

	chartDays := days
	if chartDays > maxChartDays {
		chartDays = maxChartDays
	}
	if summary.DailyBreakdown, err = s.dailyBreakdown(ctx, team, chartDays); err != nil {
		return Summary{}, err
	}

	return summary, nil
}

const teamScope = `($1 = '' OR agent_id IN (SELECT agent_id FROM agents WHERE owner_team = $1))`

func (s *Store) overview(ctx context.Context, team string, cutoff time.Time) (Overview, error) {
	var o Overview
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE timestamp >= $2 AND `+teamScope+`),
			COUNT(*) FILTER (WHERE timestamp >= $2 AND allowed AND `+teamScope+`)
		 FROM audit_logs`,
		team, cutoff,
	).Scan(&o.TotalActions, &o.Allowed)
	if err != nil {
		return Overview{}, fmt.Errorf("computing overview stats: %w", err)
	}
	o.Denied = o.TotalActions - o.Allowed
	if o.TotalActions > 0 {
		o.AllowRate = round1(float64(o.Allowed) / float64(o.TotalActions) * 100)
		o.DenyRate = round1(float64(o.Denied) / float64(o.TotalActions) * 100)
	}
	return o, nil
}

func (s *Store) approvalStats(ctx context.Context, team string, cutoff time.Time) (ApprovalStats, error) {
	var a ApprovalStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE created_at >= $2 AND `+teamScope+`),
			COUNT(*) FILTER (WHERE status = 'pending' AND `+teamScope+`),
			COUNT(*) FILTER (WHERE created_at >= $2 AND status = 'approved' AND `+teamScope+`),
			COUNT(*) FILTER (WHERE created_at >= $2 AND status = 'denied' AND `+teamScope+`)
		 FROM approval_requests`,
		team, cutoff,
	).Scan(&a.Total, &a.Pending, &a.Approved, &a.Denied)
	if err != nil {
		return ApprovalStats{}, fmt.Errorf("computing approval stats: %w", err)
	}
	decided := a.Approved + a.Denied
	if decided > 0 {
		a.ApprovalRate = round1(float64(a.Approved) / float64(decided) * 100)
	}
	return a, nil
}

func (s *Store) topAgents(ctx context.Context, team string, cutoff time.Time) ([]AgentActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.agent_id, COALESCE(a.name, 'Unknown') AS agent_name,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE l.allowed) AS allowed
		 FROM audit_logs l
		 LEFT JOIN agents a ON a.agent_id = l.agent_id
		 WHERE l.timestamp >= $2 AND ($1 = '' OR a.owner_team = $1)
		 GROUP BY l.agent_id, a.name
		 ORDER BY total DESC
		 LIMIT 10`,
		team, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("computing top agents: %w", err)
	}
	defer rows.Close()

	var out []AgentActivity
	for rows.Next() {
		var a AgentActivity
		if err := rows.Scan(&a.AgentID, &a.AgentName, &a.TotalActions, &a.Allowed); err != nil {
			return nil, fmt.Errorf("scanning top agent row: %w", err)
		}
		a.Denied = a.TotalActions - a.Allowed
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) topDeniedActions(ctx context.Context, team string, cutoff time.Time) ([]DeniedAction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action, COUNT(*) AS count
		 FROM audit_logs
		 WHERE timestamp >= $2 AND NOT allowed AND `+teamScope+`
		 GROUP BY action
		 ORDER BY count DESC
		 LIMIT 10`,
		team, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("computing top denied actions: %w", err)
	}
	defer rows.Close()

	var out []DeniedAction
	for rows.Next() {
		var d DeniedAction
		if err := rows.Scan(&d.Action, &d.Count); err != nil {
			return nil, fmt.Errorf("scanning denied action row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) dailyBreakdown(ctx context.Context, team string, chartDays int) ([]DailyCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day::date,
			COUNT(l.*) AS total,
			COUNT(l.*) FILTER (WHERE l.allowed) AS allowed
		 FROM generate_series(
			date_trunc('day', now()) - ($2::int - 1) * interval '1 day',
			date_trunc('day', now()),
			interval '1 day'
		 ) AS day
		 LEFT JOIN audit_logs l
			ON l.timestamp >= day AND l.timestamp < day + interval '1 day'
			AND (($1 = '') OR l.agent_id IN (SELECT agent_id FROM agents WHERE owner_team = $1))
		 GROUP BY day
		 ORDER BY day ASC`,
		team, chartDays,
	)
	if err != nil {
		return nil, fmt.Errorf("computing daily breakdown: %w", err)
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Date, &d.Total, &d.Allowed); err != nil {
			return nil, fmt.Errorf("scanning daily breakdown row: %w", err)
		}
		d.Denied = d.Total - d.Allowed
		out = append(out, d)
	}
	return out, rows.Err()
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
