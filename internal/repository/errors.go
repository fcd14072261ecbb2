// Package repository holds the persistence layer: MySQL repositories for
// accounts and organization memberships, and Redis-backed stores for
// refresh tokens and cached permission sets. The sentinel errors below
// let the service layer tell expected outcomes apart from store failures.
// For example, ErrNotFound means the row is absent, while any other error
// means the store could not answer.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned by account creation when the unique email
// constraint rejects the insert. Handlers translate it into HTTP 409.
var ErrEmailExists = errors.New("email already exists")

// ErrRoleNotFound means a seeded role slug is missing from `roles`.
var ErrRoleNotFound = errors.New("role not found")

const mysqlDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
