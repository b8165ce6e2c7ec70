// Package admin implements CRUD over named admin-user accounts — the
// durable counterpart to the bootstrap super-admin key (spec.md §4.1).
package admin

import "time"

// User is a single admin_users row.
type User struct {
	AdminID   string
	Name      string
	KeyHash   string
	KeyPrefix string
	Role      string
	Team      *string
	IsActive  bool
	CreatedAt time.Time
}

// CreateParams carries the fields a super-admin supplies when registering a
// named admin user.
type CreateParams struct {
	Name string
	Role string // admin | auditor | approver ("super-admin" is bootstrap-only)
	Team *string
}
