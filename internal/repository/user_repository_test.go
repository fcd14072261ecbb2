package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/karaoke-backend/internal/apperr"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestUserGetByEmailNormalizesAndLoadsRoles(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT id,email,password_hash,created_at,updated_at FROM users WHERE email=\?`).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at", "updated_at"}).
			AddRow("u-1", "ada@example.com", "$2a$hash", now, now))
	mock.ExpectQuery(`SELECT role_slug FROM user_global_roles WHERE user_id=\?`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"role_slug"}).AddRow("platform-admin").AddRow("support"))

	u, err := repo.GetByEmail(context.Background(), "  Ada@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "u-1", u.ID)
	require.NotNil(t, u.PasswordHash)
	assert.True(t, u.Activated())
	assert.Equal(t, []string{"platform-admin", "support"}, u.GlobalRoles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserGetByIDNotFoundAndNullHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`FROM users WHERE id=\?`).WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	mock.ExpectQuery(`FROM users WHERE id=\?`).WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "created_at", "updated_at"}).
			AddRow("u-2", "invitee@example.com", nil, now, now))
	mock.ExpectQuery(`FROM user_global_roles`).WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"role_slug"}))
	u, err := repo.GetByID(context.Background(), "u-2")
	require.NoError(t, err)
	assert.Nil(t, u.PasswordHash)
	assert.False(t, u.Activated())
	assert.Empty(t, u.GlobalRoles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomerAccountInsertsInOneTx(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(sqlmock.AnyArg(), "owner@example.com", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM roles WHERE slug=\?`).WithArgs(RoleCustomerAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-ca"))
	mock.ExpectExec(`INSERT INTO customers`).
		WithArgs(sqlmock.AnyArg(), "Night Owls", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO organization_memberships`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "role-ca", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, c, err := repo.CreateCustomerAccount(context.Background(), "Owner@Example.com", "hash", "Night Owls")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", u.Email)
	assert.Equal(t, u.ID, c.OwnerUserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountDuplicateEmailRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	_, _, err := repo.CreateSingerAccount(context.Background(), "dup@example.com", "hash", "Dup")
	assert.ErrorIs(t, err, ErrEmailExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountStoreFailureIsUnavailable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))
	_, _, err := repo.CreateSingerAccount(context.Background(), "mic@example.com", "hash", "Mic")
	var su *apperr.StoreUnavailableError
	require.ErrorAs(t, err, &su)
	assert.Equal(t, "users.create", su.Op)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM roles WHERE slug=\?`).WithArgs(RoleCustomerAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-ca"))
	mock.ExpectExec(`INSERT INTO customers`).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()
	_, _, err = repo.CreateCustomerAccount(context.Background(), "owner@example.com", "hash", "Night Owls")
	require.ErrorAs(t, err, &su)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, 503, apperr.Status(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSingerAccount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO singers`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "Mic Drop", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, s, err := repo.CreateSingerAccount(context.Background(), "mic@example.com", "hash", "Mic Drop")
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
