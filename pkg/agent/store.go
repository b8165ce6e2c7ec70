package agent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentguard/internal/auth"
)

// ErrNotFound is returned when an agent_id does not exist.
var ErrNotFound = errors.New("agent not found")

// Store provides Postgres-backed CRUD over agent identities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an agent Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func generateAgentID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating agent id: %w", err)
	}
	return fmt.Sprintf("agt_%x", b), nil
}

// Create registers a new agent and its initial API key, returning the raw
// key exactly once (spec.md §6: "returns raw key once").
func (s *Store) Create(ctx context.Context, p CreateParams) (*Record, string, error) {
	agentID, err := generateAgentID()
	if err != nil {
		return nil, "", err
	}

	rawKey, keyHash, keyPrefix := auth.GenerateKey("agk_")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("beginning agent create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var rec Record
	err = tx.QueryRow(ctx,
		`INSERT INTO agents (agent_id, name, owner_team, environment, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING agent_id, name, owner_team, environment, is_active, created_at, updated_at`,
		agentID, p.Name, p.OwnerTeam, p.Environment,
	).Scan(&rec.AgentID, &rec.Name, &rec.OwnerTeam, &rec.Environment, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("creating agent: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO agent_keys (agent_id, key_hash, key_prefix, is_active) VALUES ($1, $2, $3, true)`,
		agentID, keyHash, keyPrefix,
	)
	if err != nil {
		return nil, "", fmt.Errorf("creating agent key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("committing agent create: %w", err)
	}

	rec.KeyPrefix = keyPrefix
	return &rec, rawKey, nil
}

const selectColumns = `a.agent_id, a.name, a.owner_team, a.environment, a.is_active, a.created_at, a.updated_at,
	COALESCE((SELECT key_prefix FROM agent_keys k WHERE k.agent_id = a.agent_id AND k.is_active ORDER BY k.created_at DESC LIMIT 1), '')`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(&r.AgentID, &r.Name, &r.OwnerTeam, &r.Environment, &r.IsActive, &r.CreatedAt, &r.UpdatedAt, &r.KeyPrefix)
	return r, err
}

// Get returns a single agent, or (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, agentID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM agents a WHERE a.agent_id = $1 AND a.is_active`, agentID)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", agentID, err)
	}
	return &r, nil
}

// AgentExists reports whether an active agent_id exists. Implements
// policy.AgentExistenceChecker.
func (s *Store) AgentExists(ctx context.Context, agentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE agent_id = $1 AND is_active)`, agentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking agent existence %s: %w", agentID, err)
	}
	return exists, nil
}

// List returns a filtered, team-scoped, paginated page of agents.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM agents a
		WHERE a.is_active
		  AND ($1 = '' OR a.environment = $1)
		  AND ($2 = '' OR a.owner_team = $2)
		ORDER BY a.created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, f.Environment, f.Team, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Delete hard-deletes an agent; cascading foreign keys remove its keys,
// policy, approvals, and audit log (spec.md §6).
func (s *Store) Delete(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveAgentByID returns the auth.Agent view used by token issuance and
// verification. Implements auth.AgentLookup.
func (s *Store) GetActiveAgentByID(ctx context.Context, agentID string) (*auth.Agent, error) {
	var a auth.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, name, owner_team, environment, is_active, created_at, updated_at
		 FROM agents WHERE agent_id = $1 AND is_active`, agentID,
	).Scan(&a.AgentID, &a.Name, &a.OwnerTeam, &a.Environment, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active agent %s: %w", agentID, err)
	}
	return &a, nil
}

// GetActiveAgentByKeyHash resolves the legacy X-Agent-Key header path.
// Implements auth.AgentLookup.
func (s *Store) GetActiveAgentByKeyHash(ctx context.Context, keyHash string) (*auth.Agent, error) {
	var a auth.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT a.agent_id, a.name, a.owner_team, a.environment, a.is_active, a.created_at, a.updated_at
		 FROM agents a
		 JOIN agent_keys k ON k.agent_id = a.agent_id
		 WHERE k.key_hash = $1 AND k.is_active AND a.is_active`, keyHash,
	).Scan(&a.AgentID, &a.Name, &a.OwnerTeam, &a.Environment, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent by key hash: %w", err)
	}
	return &a, nil
}
