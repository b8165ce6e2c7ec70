package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentguard/internal/telemetry"
)

// Store provides the serialized, hash-chained append and the verification
// walk over Postgres-backed audit_logs rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an audit Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type tailRow struct {
	logID     string
	timestamp time.Time
}

// Append inserts a new entry into agentID's chain. The preceding-row read
// and the insert happen inside one transaction that first locks the agent's
// row (and then the tail), so two concurrent Append calls for the same agent
// can never observe the same tail and compute the same previous_hash
// (spec.md §5).
func (s *Store) Append(ctx context.Context, agentID string, e NewEntry) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("beginning audit append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The agent row exists even before the first log entry, so locking it
	// serializes appends; the tail read below then sees every committed one.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM agents WHERE agent_id = $1 FOR NO KEY UPDATE`, agentID); err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("locking agent %s for audit append: %w", agentID, err)
	}

	var prev *tailRow
	row := tx.QueryRow(ctx,
		`SELECT log_id, timestamp FROM audit_logs
		 WHERE agent_id = $1 ORDER BY id DESC LIMIT 1 FOR UPDATE`, agentID)
	var t tailRow
	err = row.Scan(&t.logID, &t.timestamp)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		prev = nil
	case err != nil:
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("locking audit tail for %s: %w", agentID, err)
	default:
		prev = &t
	}

	newLogID := uuid.NewString()

	var prevHash string
	if prev == nil {
		prevHash = genesisHash()
	} else {
		prevHash = computeHash(prev.logID, prev.timestamp, newLogID, e.Action)
	}

	var resourcePtr *string
	if e.Resource != "" {
		resourcePtr = &e.Resource
	}
	var requestIDPtr *string
	if e.RequestID != "" {
		requestIDPtr = &e.RequestID
	}

	contextJSON, err := marshalOptional(e.Context)
	if err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("marshaling audit context: %w", err)
	}
	metadataJSON, err := marshalOptional(e.Metadata)
	if err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("marshaling audit metadata: %w", err)
	}

	entry := Entry{
		LogID: newLogID, AgentID: agentID, Action: e.Action, Resource: e.Resource,
		Context: e.Context, Allowed: e.Allowed, Result: e.Result, Metadata: e.Metadata,
		RequestID: e.RequestID, PreviousHash: prevHash,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO audit_logs (log_id, agent_id, action, resource, context, allowed, result, metadata, request_id, previous_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING timestamp`,
		entry.LogID, entry.AgentID, entry.Action, resourcePtr, contextJSON, entry.Allowed,
		string(entry.Result), metadataJSON, requestIDPtr, entry.PreviousHash,
	).Scan(&entry.Timestamp)
	if err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("appending audit log for %s: %w", agentID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		telemetry.AuditChainWritesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("committing audit append for %s: %w", agentID, err)
	}

	telemetry.AuditChainWritesTotal.WithLabelValues("success").Inc()
	return &entry, nil
}

func marshalOptional(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

const selectColumns = `log_id, agent_id, timestamp, action, resource, context, allowed, result, metadata, request_id, previous_hash`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var resource, requestID *string
	var contextJSON, metadataJSON []byte
	var result string

	err := row.Scan(&e.LogID, &e.AgentID, &e.Timestamp, &e.Action, &resource, &contextJSON,
		&e.Allowed, &result, &metadataJSON, &requestID, &e.PreviousHash)
	if err != nil {
		return Entry{}, err
	}
	e.Result = Result(result)
	if resource != nil {
		e.Resource = *resource
	}
	if requestID != nil {
		e.RequestID = *requestID
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return Entry{}, fmt.Errorf("unmarshaling audit context: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return Entry{}, fmt.Errorf("unmarshaling audit metadata: %w", err)
		}
	}
	return e, nil
}

// List returns a filtered page of entries ordered most-recent-first.
func (s *Store) List(ctx context.Context, f QueryFilter) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM audit_logs
		WHERE ($1 = '' OR agent_id = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3::boolean IS NULL OR allowed = $3)
		  AND ($4::timestamptz IS NULL OR timestamp >= $4)
		  AND ($5::timestamptz IS NULL OR timestamp <= $5)
		ORDER BY id DESC
		LIMIT $6 OFFSET $7`

	rows, err := s.pool.Query(ctx, query, f.AgentID, f.Action, f.Allowed, f.StartTime, f.EndTime, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log rows: %w", err)
	}
	return entries, nil
}

// Verify walks agentID's chain in insertion order and reports the first
// broken link, if any (spec.md §4.7).
func (s *Store) Verify(ctx context.Context, agentID string) (VerifyResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM audit_logs WHERE agent_id = $1 ORDER BY id ASC`, agentID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("querying chain for %s: %w", agentID, err)
	}
	defer rows.Close()

	result := VerifyResult{AgentID: agentID, Valid: true}
	var prev *Entry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("scanning chain row for %s: %w", agentID, err)
		}
		result.TotalEntries++

		var expected string
		if prev == nil {
			expected = genesisHash()
		} else {
			expected = computeHash(prev.LogID, prev.Timestamp, e.LogID, e.Action)
		}

		if result.Valid && expected != e.PreviousHash {
			result.Valid = false
			result.BrokenAt = e.LogID
		}

		entryCopy := e
		prev = &entryCopy
	}
	if err := rows.Err(); err != nil {
		return VerifyResult{}, fmt.Errorf("iterating chain rows for %s: %w", agentID, err)
	}

	telemetry.AuditChainVerifyTotal.WithLabelValues(strconv.FormatBool(result.Valid)).Inc()
	return result, nil
}
