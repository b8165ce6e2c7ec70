package admin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/agentguard/internal/auth"
)

// ErrNotFound is returned when an admin_id does not exist.
var ErrNotFound = errors.New("admin user not found")

// Store provides Postgres-backed CRUD over named admin users.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an admin Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func generateAdminID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating admin id: %w", err)
	}
	return fmt.Sprintf("adm_%x", b), nil
}

// Create registers a new admin user, returning the raw API key exactly once.
func (s *Store) Create(ctx context.Context, p CreateParams) (*User, string, error) {
	adminID, err := generateAdminID()
	if err != nil {
		return nil, "", err
	}

	rawKey, keyHash, keyPrefix := auth.GenerateKey("adk_")

	var u User
	err = s.pool.QueryRow(ctx,
		`INSERT INTO admin_users (admin_id, name, key_hash, key_prefix, role, team, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, true)
		 RETURNING admin_id, name, key_hash, key_prefix, role, team, is_active, created_at`,
		adminID, p.Name, keyHash, keyPrefix, p.Role, p.Team,
	).Scan(&u.AdminID, &u.Name, &u.KeyHash, &u.KeyPrefix, &u.Role, &u.Team, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("creating admin user: %w", err)
	}
	return &u, rawKey, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.AdminID, &u.Name, &u.KeyHash, &u.KeyPrefix, &u.Role, &u.Team, &u.IsActive, &u.CreatedAt)
	return u, err
}

const selectColumns = `admin_id, name, key_hash, key_prefix, role, team, is_active, created_at`

// List returns every admin user, most recently created first.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM admin_users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing admin users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning admin user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Deactivate soft-deletes an admin user.
func (s *Store) Deactivate(ctx context.Context, adminID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE admin_users SET is_active = false WHERE admin_id = $1`, adminID)
	if err != nil {
		return fmt.Errorf("deactivating admin user %s: %w", adminID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetActiveByKeyHash resolves the admin-token-issuance lookup path (POST
// /token's admin_key branch).
func (s *Store) GetActiveByKeyHash(ctx context.Context, keyHash string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM admin_users WHERE key_hash = $1 AND is_active`, keyHash)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading admin user by key hash: %w", err)
	}
	return &u, nil
}
