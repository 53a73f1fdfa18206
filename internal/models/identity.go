package models

type IdentityKind string

const (
	IdentityRegistered IdentityKind = "registered"
	IdentityGuest      IdentityKind = "guest"
)

// Identity is either a registered user or a named guest; UserID is only set
// for the registered kind.
type Identity struct {
	Kind        IdentityKind `json:"kind"`
	UserID      string       `json:"userId,omitempty"`
	DisplayName string       `json:"displayName"`
}

func RegisteredIdentity(userID, displayName string) Identity {
	if displayName == "" {
		displayName = userID
	}
	return Identity{Kind: IdentityRegistered, UserID: userID, DisplayName: displayName}
}

func GuestIdentity(displayName string) Identity {
	return Identity{Kind: IdentityGuest, DisplayName: displayName}
}

func (i Identity) Registered() bool {
	return i.Kind == IdentityRegistered
}
