package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// PermissionSet is the effective permission set of one user in one
// organization: role grants plus direct grants, sorted and deduplicated.
type PermissionSet struct {
	OrganizationID string   `json:"organizationId"`
	RoleSlug       string   `json:"roleSlug,omitempty"`
	Permissions    []string `json:"permissions"`
	Version        string   `json:"version"`
}

// Has reports whether perm is in the set. Permissions must be sorted.
func (p *PermissionSet) Has(perm string) bool {
	if p == nil {
		return false
	}
	i := sort.SearchStrings(p.Permissions, perm)
	return i < len(p.Permissions) && p.Permissions[i] == perm
}

// Roles returns the membership role as a claim-ready slice.
func (p *PermissionSet) Roles() []string {
	if p == nil || p.RoleSlug == "" {
		return []string{}
	}
	return []string{p.RoleSlug}
}

// NewPermissionSet unions the given grants and stamps the version token.
func NewPermissionSet(orgID, roleSlug string, updatedAt time.Time, grants ...[]string) *PermissionSet {
	var all []string
	for _, g := range grants {
		all = append(all, g...)
	}
	perms := NormalizeSlugs(all)
	return &PermissionSet{
		OrganizationID: orgID,
		RoleSlug:       roleSlug,
		Permissions:    perms,
		Version:        PermissionVersion(roleSlug, perms, updatedAt),
	}
}

// PermissionVersion derives the version token for a permission snapshot.
// It is a pure function of its inputs: the permissions are normalized
// before hashing so caller ordering does not matter, and updatedAt is
// compared in UTC at nanosecond precision.
func PermissionVersion(roleSlug string, permissions []string, updatedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte("role\x00"))
	h.Write([]byte(roleSlug))
	h.Write([]byte("\x00perms\x00"))
	h.Write([]byte(strings.Join(NormalizeSlugs(permissions), "\x1f")))
	h.Write([]byte("\x00updated\x00"))
	h.Write([]byte(updatedAt.UTC().Format(time.RFC3339Nano)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// NormalizeSlugs returns a sorted copy of in with blanks and duplicates
// removed. The input slice is not modified.
func NormalizeSlugs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
