package types

import "fmt"

// IdentityKind distinguishes the anonymous and authenticated identity tiers.
type IdentityKind string

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// AnonymousIdentityValue is the wire value of the identity field for anonymous sessions.
const AnonymousIdentityValue = "anonymous"

// Identity is the acting identity. SessionID is always populated; UserID only
// for authenticated identities.
type Identity struct {
	Kind      IdentityKind `json:"kind"`
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id,omitempty"`
}

func Anonymous(sessionID string) Identity {
	return Identity{Kind: IdentityAnonymous, SessionID: sessionID}
}

func Authenticated(userID, sessionID string) Identity {
	return Identity{Kind: IdentityAuthenticated, SessionID: sessionID, UserID: userID}
}

func (i Identity) IsAuthenticated() bool {
	return i.Kind == IdentityAuthenticated && i.UserID != ""
}

// Key identifies the storage tier owned by this identity.
func (i Identity) Key() string {
	if i.IsAuthenticated() {
		return "user:" + i.UserID
	}
	return "anon:" + i.SessionID
}

// WireValue is the value sent as the "identity" field to the backend.
func (i Identity) WireValue() string {
	if i.IsAuthenticated() {
		return i.UserID
	}
	return AnonymousIdentityValue
}

func (i Identity) String() string {
	return fmt.Sprintf("%s(%s)", i.Kind, i.Key())
}

// IdentityChanged is published whenever the resolved identity differs from the cached one.
type IdentityChanged struct {
	Old Identity `json:"old"`
	New Identity `json:"new"`
}
