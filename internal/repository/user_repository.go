package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
	"github.com/iliyamo/karaoke-backend/internal/model"
)

// RoleCustomerAdmin is granted to the user who registers a customer.
const RoleCustomerAdmin = "customer-admin"

// UserRepo reads and creates accounts in MySQL.
type UserRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db, now: time.Now} }

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const userColumns = "id,email,password_hash,created_at,updated_at"

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	return r.scanWithRoles(ctx, row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return r.scanWithRoles(ctx, row)
}

func (r *UserRepo) scanWithRoles(ctx context.Context, row *sql.Row) (*model.User, error) {
	var (
		u    model.User
		hash sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &hash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if hash.Valid {
		u.PasswordHash = &hash.String
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT role_slug FROM user_global_roles WHERE user_id=? ORDER BY role_slug", u.ID)
	if err != nil {
		return nil, fmt.Errorf("query global roles: %w", err)
	}
	defer rows.Close()
	u.GlobalRoles = []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan global role: %w", err)
		}
		u.GlobalRoles = append(u.GlobalRoles, slug)
	}
	return &u, rows.Err()
}

// CreateCustomerAccount inserts the user, a customer organization owned by
// them and an active customer-admin membership in one transaction.
func (r *UserRepo) CreateCustomerAccount(ctx context.Context, email, passwordHash, customerName string) (*model.User, *model.Customer, error) {
	now := r.now().UTC()
	var (
		user     *model.User
		customer *model.Customer
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if user, err = insertUser(ctx, tx, email, passwordHash, now); err != nil {
			return err
		}

		var roleID string
		err = tx.QueryRowContext(ctx, "SELECT id FROM roles WHERE slug=? LIMIT 1", RoleCustomerAdmin).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoleNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup role: %w", err)
		}

		customer = &model.Customer{ID: uuid.NewString(), Name: customerName, OwnerUserID: user.ID, CreatedAt: now}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO customers (id, name, owner_user_id, created_at) VALUES (?,?,?,?)",
			customer.ID, customer.Name, customer.OwnerUserID, now); err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO organization_memberships (id, customer_id, user_id, role_id, status, created_at, updated_at) VALUES (?,?,?,?,?,?,?)",
			uuid.NewString(), customer.ID, user.ID, roleID, string(model.MembershipActive), now, now); err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, createErr(err)
	}
	return user, customer, nil
}

// CreateSingerAccount inserts the user and their singer profile.
func (r *UserRepo) CreateSingerAccount(ctx context.Context, email, passwordHash, displayName string) (*model.User, *model.Singer, error) {
	now := r.now().UTC()
	var (
		user   *model.User
		singer *model.Singer
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if user, err = insertUser(ctx, tx, email, passwordHash, now); err != nil {
			return err
		}
		singer = &model.Singer{ID: uuid.NewString(), UserID: user.ID, DisplayName: displayName, CreatedAt: now}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO singers (id, user_id, display_name, created_at) VALUES (?,?,?,?)",
			singer.ID, singer.UserID, singer.DisplayName, now); err != nil {
			return fmt.Errorf("insert singer: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, createErr(err)
	}
	return user, singer, nil
}

func insertUser(ctx context.Context, tx *sql.Tx, email, passwordHash string, now time.Time) (*model.User, error) {
	u := &model.User{
		ID:          uuid.NewString(),
		Email:       NormalizeEmail(email),
		GlobalRoles: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var hash sql.NullString
	if passwordHash != "" {
		hash = sql.NullString{String: passwordHash, Valid: true}
		u.PasswordHash = &passwordHash
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at, updated_at) VALUES (?,?,?,?,?)",
		u.ID, u.Email, hash, now, now); err != nil {
		if isDuplicateEntry(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// createErr keeps the sentinels callers branch on and reports every other
// failure as the store being unavailable.
func createErr(err error) error {
	if errors.Is(err, ErrEmailExists) || errors.Is(err, ErrRoleNotFound) {
		return err
	}
	return apperr.Unavailable("users.create", err)
}

func (r *UserRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
