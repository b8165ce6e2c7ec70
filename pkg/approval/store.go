package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentguard/pkg/policy"
)

// Store provides Postgres-backed access to approval requests.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an approval Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `ar.approval_id, ar.agent_id, a.name, ar.status, ar.action, ar.resource, ar.context,
	ar.created_at, ar.decision_at, ar.decision_by, ar.decision_reason`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	var resource *string
	var contextJSON []byte
	var agentName *string

	err := row.Scan(
		&r.ApprovalID, &r.AgentID, &agentName, &r.Status, &r.Action, &resource, &contextJSON,
		&r.CreatedAt, &r.DecisionAt, &r.DecisionBy, &r.DecisionReason,
	)
	if err != nil {
		return Request{}, err
	}
	if agentName != nil {
		r.AgentName = *agentName
	}
	if resource != nil {
		r.Resource = *resource
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &r.Context); err != nil {
			return Request{}, fmt.Errorf("unmarshaling approval context: %w", err)
		}
	}
	return r, nil
}

// CreateApproval inserts a new pending approval request. Implements
// policy.ApprovalCreator.
func (s *Store) CreateApproval(ctx context.Context, agentID, action, resource string, reqContext map[string]any) (string, error) {
	approvalID := uuid.NewString()

	var contextJSON []byte
	if reqContext != nil {
		var err error
		contextJSON, err = json.Marshal(reqContext)
		if err != nil {
			return "", fmt.Errorf("marshaling approval context: %w", err)
		}
	}

	var resourcePtr *string
	if resource != "" {
		resourcePtr = &resource
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_requests (approval_id, agent_id, status, action, resource, context)
		 VALUES ($1, $2, 'pending', $3, $4, $5)`,
		approvalID, agentID, action, resourcePtr, contextJSON,
	)
	if err != nil {
		return "", fmt.Errorf("creating approval request: %w", err)
	}
	return approvalID, nil
}

// GetOwnApproval returns the approval only if it belongs to agentID.
// Implements policy.ApprovalFetcher.
func (s *Store) GetOwnApproval(ctx context.Context, agentID, approvalID string) (*policy.OwnApprovalView, error) {
	var v policy.OwnApprovalView
	var decisionBy, decisionReason *string

	err := s.pool.QueryRow(ctx,
		`SELECT approval_id, status, decision_at, decision_by, decision_reason
		 FROM approval_requests WHERE approval_id = $1 AND agent_id = $2`,
		approvalID, agentID,
	).Scan(&v.ApprovalID, &v.Status, &v.DecisionAt, &decisionBy, &decisionReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading own approval %s: %w", approvalID, err)
	}
	if decisionBy != nil {
		v.DecisionBy = *decisionBy
	}
	if decisionReason != nil {
		v.DecisionReason = *decisionReason
	}
	return &v, nil
}

// Get returns a single approval by ID, or (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, approvalID string) (*Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM approval_requests ar
		 LEFT JOIN agents a ON a.agent_id = ar.agent_id
		 WHERE ar.approval_id = $1`, approvalID,
	)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading approval %s: %w", approvalID, err)
	}
	return &r, nil
}

// List returns a filtered, team-scoped, paginated page of approvals plus
// the filter-matched total and the global pending count.
func (s *Store) List(ctx context.Context, f ListFilter) (ListResult, error) {
	query := `SELECT ` + selectColumns + ` FROM approval_requests ar
		LEFT JOIN agents a ON a.agent_id = ar.agent_id
		WHERE ($1 = '' OR a.owner_team = $1)
		  AND ($2 = '' OR ar.status = $2)
		  AND ($3 = '' OR ar.agent_id = $3)
		ORDER BY ar.created_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := s.pool.Query(ctx, query, f.Team, string(f.Status), f.AgentID, f.Limit, f.Offset)
	if err != nil {
		return ListResult{}, fmt.Errorf("listing approvals: %w", err)
	}
	defer rows.Close()

	var items []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return ListResult{}, fmt.Errorf("scanning approval row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterating approval rows: %w", err)
	}

	var total, pendingCount int
	err = s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE ($1 = '' OR a.owner_team = $1) AND ($2 = '' OR ar.status = $2) AND ($3 = '' OR ar.agent_id = $3)),
			COUNT(*) FILTER (WHERE ar.status = 'pending')
		 FROM approval_requests ar
		 LEFT JOIN agents a ON a.agent_id = ar.agent_id`,
		f.Team, string(f.Status), f.AgentID,
	).Scan(&total, &pendingCount)
	if err != nil {
		return ListResult{}, fmt.Errorf("counting approvals: %w", err)
	}

	return ListResult{Items: items, Total: total, PendingCount: pendingCount}, nil
}

// ErrNotPending is returned by Decide/Cancel when the row is not currently pending.
var ErrNotPending = errors.New("approval is not pending")

// ErrNotFound is returned when the approval_id does not exist.
var ErrNotFound = errors.New("approval not found")

// Decide atomically transitions a pending approval to approved or denied,
// returning ErrNotPending if it has already been decided and ErrNotFound if
// it does not exist.
func (s *Store) Decide(ctx context.Context, approvalID string, newStatus Status, decidedBy, reason string) (*Request, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE approval_requests
		 SET status = $2, decision_at = now(), decision_by = $3, decision_reason = $4
		 WHERE approval_id = $1 AND status = 'pending'
		 RETURNING approval_id`,
		approvalID, string(newStatus), decidedBy, reason,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("deciding approval %s: %w", approvalID, err)
		}
		existing, getErr := s.Get(ctx, approvalID)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrNotPending
	}

	return s.Get(ctx, approvalID)
}

// Cancel deletes a pending approval, returning ErrNotPending if it has
// already been decided and ErrNotFound if it does not exist.
func (s *Store) Cancel(ctx context.Context, approvalID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM approval_requests WHERE approval_id = $1 AND status = 'pending'`, approvalID)
	if err != nil {
		return fmt.Errorf("cancelling approval %s: %w", approvalID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, getErr := s.Get(ctx, approvalID)
	if getErr != nil {
		return getErr
	}
	if existing == nil {
		return ErrNotFound
	}
	return ErrNotPending
}
