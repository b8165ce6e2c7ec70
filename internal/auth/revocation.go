package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RevocationStore is a Postgres-backed Revoker with an optional Redis
// read-through cache. Postgres is the single source of truth (spec.md §9);
// Redis, when configured, only shortcuts the "revoked" answer: a cache hit
// reports the token revoked, and every miss falls through to Postgres.
type RevocationStore struct {
	db    *pgxpool.Pool
	cache *redis.Client
}

// NewRevocationStore returns a RevocationStore. rdb may be nil, in which
// case every check and write goes straight to Postgres.
func NewRevocationStore(db *pgxpool.Pool, rdb *redis.Client) *RevocationStore {
	return &RevocationStore{db: db, cache: rdb}
}

const revokedCacheTTLCap = 24 * time.Hour

func cacheKey(jti string) string {
	return "agentguard:revoked:" + jti
}

// IsRevoked reports whether jti has been revoked. A Redis hit short-circuits
// the database lookup; a Redis miss or error falls through to Postgres.
func (s *RevocationStore) IsRevoked(jti string) (bool, error) {
	ctx := context.Background()

	if s.cache != nil {
		n, err := s.cache.Exists(ctx, cacheKey(jti)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking revocation for jti %s: %w", jti, err)
	}
	return exists, nil
}

// Revoke records jti as revoked until expiresAt. Idempotent: revoking an
// already-revoked jti is a no-op (original_source/backend/app/api/tokens.py).
func (s *RevocationStore) Revoke(jti string, expiresAt time.Time) error {
	ctx := context.Background()

	_, err := s.db.Exec(ctx,
		`INSERT INTO revoked_tokens (jti, revoked_at, expires_at)
		 VALUES ($1, now(), $2)
		 ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("recording revocation for jti %s: %w", jti, err)
	}

	if s.cache != nil {
		ttl := time.Until(expiresAt)
		if ttl <= 0 {
			ttl = time.Minute
		}
		if ttl > revokedCacheTTLCap {
			ttl = revokedCacheTTLCap
		}
		s.cache.Set(ctx, cacheKey(jti), "1", ttl)
	}

	return nil
}

// PurgeExpired deletes revocation rows past their expiry, keeping the table
// bounded. Intended to run on a periodic schedule from internal/app.
func (s *RevocationStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("purging expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}
