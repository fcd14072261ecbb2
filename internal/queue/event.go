// Package queue defines message payloads exchanged over the message broker
// together with the publisher and consumer that move them.
package queue

import "time"

const (
    // SessionEventsQueue carries session lifecycle events for auditing.
    SessionEventsQueue = "auth.session.events"
    // MembershipChangedQueue is the default queue for membership and role
    // changes published by the organization management services.
    MembershipChangedQueue = "auth.membership.changed"
)

// Session event types.
const (
    SessionCreated   = "session.created"
    SessionRefreshed = "session.refreshed"
    SessionRevoked   = "session.revoked"
)

// SessionEvent is published when a session starts, rotates or ends. It
// never carries token material.
type SessionEvent struct {
    Type       string    `json:"type"`
    UserID     string    `json:"user_id"`
    TokenID    string    `json:"token_id,omitempty"`
    Context    string    `json:"context,omitempty"`
    OccurredAt time.Time `json:"occurred_at"`
}

// MembershipChangedEvent is consumed to invalidate cached permission sets.
// Any change to a membership row, its direct grants, or the grants of a
// role used in the organization should produce one.
type MembershipChangedEvent struct {
    OrganizationID string    `json:"organization_id"`
    UserID         string    `json:"user_id,omitempty"`
    Reason         string    `json:"reason"` // membership.updated | role.permissions.changed | ...
    OccurredAt     time.Time `json:"occurred_at"`
}
