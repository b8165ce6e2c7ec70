package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides Postgres-backed access to policies and team policies.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a policy Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func marshalRules(rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	return json.Marshal(rules)
}

func unmarshalRules(raw []byte) ([]Rule, error) {
	var rules []Rule
	if len(raw) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("unmarshaling rules: %w", err)
	}
	return rules, nil
}

// GetPolicy returns the agent's own policy, or (nil, nil) if none exists.
func (s *Store) GetPolicy(ctx context.Context, agentID string) (*Policy, error) {
	var p Policy
	var allow, deny, requireApproval []byte

	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, allow_rules, deny_rules, require_approval_rules, created_at, updated_at
		 FROM policies WHERE agent_id = $1`, agentID,
	).Scan(&p.AgentID, &allow, &deny, &requireApproval, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy for %s: %w", agentID, err)
	}

	if p.Allow, err = unmarshalRules(allow); err != nil {
		return nil, err
	}
	if p.Deny, err = unmarshalRules(deny); err != nil {
		return nil, err
	}
	if p.RequireApproval, err = unmarshalRules(requireApproval); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPolicy inserts or replaces an agent's policy (spec.md §4.4's "PUT
// replaces existing" semantics, grounded on
// original_source/backend/app/api/policies.py::set_policy).
func (s *Store) SetPolicy(ctx context.Context, agentID string, allow, deny, requireApproval []Rule) (*Policy, error) {
	allowJSON, err := marshalRules(allow)
	if err != nil {
		return nil, fmt.Errorf("marshaling allow rules: %w", err)
	}
	denyJSON, err := marshalRules(deny)
	if err != nil {
		return nil, fmt.Errorf("marshaling deny rules: %w", err)
	}
	requireApprovalJSON, err := marshalRules(requireApproval)
	if err != nil {
		return nil, fmt.Errorf("marshaling require_approval rules: %w", err)
	}

	var p Policy
	var allowOut, denyOut, requireApprovalOut []byte
	err = s.pool.QueryRow(ctx,
		`INSERT INTO policies (agent_id, allow_rules, deny_rules, require_approval_rules)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   allow_rules = EXCLUDED.allow_rules,
		   deny_rules = EXCLUDED.deny_rules,
		   require_approval_rules = EXCLUDED.require_approval_rules,
		   updated_at = now()
		 RETURNING agent_id, allow_rules, deny_rules, require_approval_rules, created_at, updated_at`,
		agentID, allowJSON, denyJSON, requireApprovalJSON,
	).Scan(&p.AgentID, &allowOut, &denyOut, &requireApprovalOut, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("setting policy for %s: %w", agentID, err)
	}

	if p.Allow, err = unmarshalRules(allowOut); err != nil {
		return nil, err
	}
	if p.Deny, err = unmarshalRules(denyOut); err != nil {
		return nil, err
	}
	if p.RequireApproval, err = unmarshalRules(requireApprovalOut); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetTeamPolicy returns the team's base policy, or (nil, nil) if none exists.
func (s *Store) GetTeamPolicy(ctx context.Context, team string) (*TeamPolicy, error) {
	var tp TeamPolicy
	var allow, deny, requireApproval []byte

	err := s.pool.QueryRow(ctx,
		`SELECT team, allow_rules, deny_rules, require_approval_rules, created_at, updated_at
		 FROM team_policies WHERE team = $1`, team,
	).Scan(&tp.Team, &allow, &deny, &requireApproval, &tp.CreatedAt, &tp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading team policy for %s: %w", team, err)
	}

	if tp.Allow, err = unmarshalRules(allow); err != nil {
		return nil, err
	}
	if tp.Deny, err = unmarshalRules(deny); err != nil {
		return nil, err
	}
	if tp.RequireApproval, err = unmarshalRules(requireApproval); err != nil {
		return nil, err
	}
	return &tp, nil
}

// SetTeamPolicy inserts or replaces a team's base policy.
func (s *Store) SetTeamPolicy(ctx context.Context, team string, allow, deny, requireApproval []Rule) (*TeamPolicy, error) {
	allowJSON, err := marshalRules(allow)
	if err != nil {
		return nil, fmt.Errorf("marshaling allow rules: %w", err)
	}
	denyJSON, err := marshalRules(deny)
	if err != nil {
		return nil, fmt.Errorf("marshaling deny rules: %w", err)
	}
	requireApprovalJSON, err := marshalRules(requireApproval)
	if err != nil {
		return nil, fmt.Errorf("marshaling require_approval rules: %w", err)
	}

	var tp TeamPolicy
	var allowOut, denyOut, requireApprovalOut []byte
	err = s.pool.QueryRow(ctx,
		`INSERT INTO team_policies (team, allow_rules, deny_rules, require_approval_rules)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (team) DO UPDATE SET
		   allow_rules = EXCLUDED.allow_rules,
		   deny_rules = EXCLUDED.deny_rules,
		   require_approval_rules = EXCLUDED.require_approval_rules,
		   updated_at = now()
		 RETURNING team, allow_rules, deny_rules, require_approval_rules, created_at, updated_at`,
		team, allowJSON, denyJSON, requireApprovalJSON,
	).Scan(&tp.Team, &allowOut, &denyOut, &requireApprovalOut, &tp.CreatedAt, &tp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("setting team policy for %s: %w", team, err)
	}

	if tp.Allow, err = unmarshalRules(allowOut); err != nil {
		return nil, err
	}
	if tp.Deny, err = unmarshalRules(denyOut); err != nil {
		return nil, err
	}
	if tp.RequireApproval, err = unmarshalRules(requireApprovalOut); err != nil {
		return nil, err
	}
	return &tp, nil
}
