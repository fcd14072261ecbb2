package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/golang-jwt/jwt/v5"
)

// ContextType is the kind of tenant a session is acting as.
type ContextType string

const (
	ContextCustomer ContextType = "customer"
	ContextSinger   ContextType = "singer"
)

// Valid reports whether t is a known context type.
func (t ContextType) Valid() bool {
	return t == ContextCustomer || t == ContextSinger
}

// ActiveContext is the tenant the session currently acts on behalf of.
type ActiveContext struct {
	Type ContextType `json:"type"`
	ID   string      `json:"id"`
}

// OrganizationClaim is the per-organization snapshot carried in a token.
type OrganizationClaim struct {
	OrganizationID    string   `json:"organizationId"`
	Roles             []string `json:"roles"`
	PermissionVersion string   `json:"permissionVersion"`
}

// AccessClaims is the full claim set of an access token. Decoding is
// strict: unknown fields are rejected and Validate enforces the shape.
type AccessClaims struct {
	Email         string              `json:"email"`
	Roles         []string            `json:"roles"`
	Organizations []OrganizationClaim `json:"orgs"`
	Context       *ActiveContext      `json:"ctx,omitempty"`
	jwt.RegisteredClaims
}

type wireClaims AccessClaims

// UnmarshalJSON decodes with DisallowUnknownFields so tokens carrying
// fields we do not understand are refused instead of coerced.
func (c *AccessClaims) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var w wireClaims
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("claims: %w", err)
	}
	*c = AccessClaims(w)
	return nil
}

var (
	errMissingSubject = errors.New("claims: missing subject")
	errMissingID      = errors.New("claims: missing token id")
	errMissingIAT     = errors.New("claims: missing issued-at")
	errUnsortedRoles  = errors.New("claims: roles must be sorted and unique")
	errUnsortedOrgs   = errors.New("claims: organizations must be sorted and unique")
)

// Validate is invoked by the jwt parser after the standard registered
// claim checks.
func (c *AccessClaims) Validate() error {
	if c.Subject == "" {
		return errMissingSubject
	}
	if c.ID == "" {
		return errMissingID
	}
	if c.IssuedAt == nil {
		return errMissingIAT
	}
	if !isNormalized(c.Roles) {
		return errUnsortedRoles
	}
	for i, o := range c.Organizations {
		if o.OrganizationID == "" || o.PermissionVersion == "" {
			return fmt.Errorf("claims: organization %d incomplete", i)
		}
		if i > 0 && c.Organizations[i-1].OrganizationID >= o.OrganizationID {
			return errUnsortedOrgs
		}
	}
	if c.Context != nil && (!c.Context.Type.Valid() || c.Context.ID == "") {
		return fmt.Errorf("claims: invalid active context %q", c.Context.Type)
	}
	return nil
}

// Organization returns the claim for orgID, if present.
func (c *AccessClaims) Organization(orgID string) (OrganizationClaim, bool) {
	i := sort.Search(len(c.Organizations), func(i int) bool {
		return c.Organizations[i].OrganizationID >= orgID
	})
	if i < len(c.Organizations) && c.Organizations[i].OrganizationID == orgID {
		return c.Organizations[i], true
	}
	return OrganizationClaim{}, false
}

func isNormalized(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] >= ss[i] {
			return false
		}
	}
	return true
}

// SortOrganizations orders claims by organization id in place.
func SortOrganizations(orgs []OrganizationClaim) {
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].OrganizationID < orgs[j].OrganizationID })
}
