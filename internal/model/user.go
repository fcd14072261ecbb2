package model

import "time"

// User represents an account record as stored in the `users` table.
// Global roles live in `user_global_roles` and are loaded alongside the
// row by the repository.
//
// Fields:
//  ID           – UUID primary key.
//  Email        – unique, lower-cased and trimmed.
//  PasswordHash – bcrypt hash; nil until the account is activated.
//  GlobalRoles  – platform-wide role slugs, sorted.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           string    // users.id
    Email        string    // users.email
    PasswordHash *string   // users.password_hash (nullable)
    GlobalRoles  []string  // user_global_roles.role_slug
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// Activated reports whether the user can sign in with a password.
func (u *User) Activated() bool {
    return u != nil && u.PasswordHash != nil && *u.PasswordHash != ""
}

// Role represents a row in the `roles` table.
type Role struct {
    ID   string // roles.id
    Slug string // roles.slug (e.g. customer-admin)
}

// Permission represents a row in the `permissions` table.
type Permission struct {
    ID   string // permissions.id
    Slug string // permissions.slug (e.g. customer.venues)
}
