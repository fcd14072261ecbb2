package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/karaoke-backend/internal/model"
)

// MembershipRepo reads organization memberships, their grants and the
// tenant profiles a user owns.
type MembershipRepo struct{ DB *sql.DB }

func NewMembershipRepo(db *sql.DB) *MembershipRepo { return &MembershipRepo{DB: db} }

const membershipSelect = `SELECT m.id, m.customer_id, m.user_id, m.role_id, r.slug, m.status, m.updated_at
FROM organization_memberships m
LEFT JOIN roles r ON r.id = m.role_id`

func scanMembership(sc interface{ Scan(...any) error }) (model.Membership, error) {
	var (
		m        model.Membership
		roleID   sql.NullString
		roleSlug sql.NullString
		status   string
	)
	if err := sc.Scan(&m.ID, &m.OrganizationID, &m.UserID, &roleID, &roleSlug, &status, &m.UpdatedAt); err != nil {
		return m, err
	}
	if roleID.Valid {
		m.RoleID = &roleID.String
	}
	if roleSlug.Valid {
		m.RoleSlug = &roleSlug.String
	}
	m.Status = model.MembershipStatus(status)
	return m, nil
}

// ListActive returns the user's active memberships ordered by organization id.
func (r *MembershipRepo) ListActive(ctx context.Context, userID string) ([]model.Membership, error) {
	rows, err := r.DB.QueryContext(ctx,
		membershipSelect+" WHERE m.user_id=? AND m.status=? ORDER BY m.customer_id",
		userID, string(model.MembershipActive))
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetActiveGrants loads the active membership of userID in orgID together
// with its role and direct permission slugs. It returns nil, nil when no
// active membership exists.
func (r *MembershipRepo) GetActiveGrants(ctx context.Context, userID, orgID string) (*model.MembershipGrants, error) {
	row := r.DB.QueryRowContext(ctx,
		membershipSelect+" WHERE m.user_id=? AND m.customer_id=? AND m.status=? LIMIT 1",
		userID, orgID, string(model.MembershipActive))
	m, err := scanMembership(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	g := &model.MembershipGrants{Membership: m}
	if m.RoleID != nil {
		g.RolePermissions, err = r.slugs(ctx,
			`SELECT p.slug FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id WHERE rp.role_id=?`,
			*m.RoleID)
		if err != nil {
			return nil, fmt.Errorf("role permissions: %w", err)
		}
	}
	g.DirectPermissions, err = r.slugs(ctx,
		`SELECT p.slug FROM membership_permissions mp JOIN permissions p ON p.id = mp.permission_id WHERE mp.membership_id=?`,
		m.ID)
	if err != nil {
		return nil, fmt.Errorf("direct permissions: %w", err)
	}
	return g, nil
}

func (r *MembershipRepo) slugs(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// OwnedCustomer returns the customer organization owned by userID, or nil.
// When several exist the oldest wins.
func (r *MembershipRepo) OwnedCustomer(ctx context.Context, userID string) (*model.Customer, error) {
	var c model.Customer
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, name, owner_user_id, created_at FROM customers WHERE owner_user_id=? ORDER BY created_at, id LIMIT 1",
		userID).Scan(&c.ID, &c.Name, &c.OwnerUserID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query owned customer: %w", err)
	}
	return &c, nil
}

// OwnedSinger returns the user's singer profile, or nil.
func (r *MembershipRepo) OwnedSinger(ctx context.Context, userID string) (*model.Singer, error) {
	var s model.Singer
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, display_name, created_at FROM singers WHERE user_id=? LIMIT 1",
		userID).Scan(&s.ID, &s.UserID, &s.DisplayName, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query singer: %w", err)
	}
	return &s, nil
}
