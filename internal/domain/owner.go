package domain

import "github.com/google/uuid"

// OwnerKind distinguishes the two durable ownership paths for a conversation.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGuest OwnerKind = "guest"
)

// OwnerRef identifies who owns a conversation: an authenticated user or an
// anonymous guest session. Exactly one of the two variants applies.
type OwnerRef struct {
	Kind           OwnerKind
	UserID         uuid.UUID
	GuestSessionID uuid.UUID
}

// UserOwner returns an OwnerRef for an authenticated user.
func UserOwner(userID uuid.UUID) OwnerRef {
	return OwnerRef{Kind: OwnerUser, UserID: userID}
}

// GuestOwner returns an OwnerRef for a guest session token.
func GuestOwner(sessionID uuid.UUID) OwnerRef {
	return OwnerRef{Kind: OwnerGuest, GuestSessionID: sessionID}
}

// IsUser reports whether the owner is an authenticated user.
func (o OwnerRef) IsUser() bool {
	return o.Kind == OwnerUser
}

// Key returns a stable string identifying the owner, usable as a cache or
// rate-limit key.
func (o OwnerRef) Key() string {
	if o.IsUser() {
		return "user:" + o.UserID.String()
	}
	return "guest:" + o.GuestSessionID.String()
}

// Owns reports whether the given conversation belongs to this owner.
func (o OwnerRef) Owns(c *Conversation) bool {
	if o.IsUser() {
		return c.UserID != nil && *c.UserID == o.UserID
	}
	return c.GuestSessionID != nil && *c.GuestSessionID == o.GuestSessionID
}
