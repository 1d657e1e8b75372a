/*
Package identity resolves bearer credentials into normalized identities.

This file defines the Identity value attached to a connection. An Identity is
set at most once per connection from a decoded or verified credential; an
unauthenticated client claim of name/email may only fill fields that are still
empty, never overwrite resolved ones.
*/
package identity

// Identity is the normalized result of resolving a credential.
type Identity struct {
	// SubjectID is the stable subject ("sub") of the credential.
	SubjectID string `json:"subjectId,omitempty"`

	// Name is the display name of the participant.
	Name string `json:"name,omitempty"`

	// Email is the participant's email address.
	Email string `json:"email,omitempty"`

	// Provider tags the credential's origin (clerk, auth0, supabase,
	// firebase, cognito or custom). Empty for purely claimed identities.
	Provider string `json:"provider,omitempty"`
}

// MergeFallback fills empty Name/Email fields of ident from a client-supplied
// claim and returns the result. A nil ident becomes a new claimed-only
// identity. Populated fields are never overwritten.
func MergeFallback(ident *Identity, name, email string) *Identity {
	if ident == nil {
		if name == "" && email == "" {
			return nil
		}
		return &Identity{Name: name, Email: email}
	}

	if ident.Name == "" {
		ident.Name = name
	}
	if ident.Email == "" {
		ident.Email = email
	}
	return ident
}
