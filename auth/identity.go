package auth

import "github.com/jrsteele09/go-visit-sessions/token/jwt"

// CredentialSource says where an identity came from
type CredentialSource int

const (
	SourceNone CredentialSource = iota
	SourceFake
	SourcePlatform
	SourceCookie
	SourceBearer
)

func (s CredentialSource) String() string {
	switch s {
	case SourceFake:
		return "fake"
	case SourcePlatform:
		return "platform"
	case SourceCookie:
		return "cookie"
	case SourceBearer:
		return "bearer"
	default:
		return "none"
	}
}

// Identity is the resolved caller. Token is only set for verified sources;
// a platform identity is asserted by a trusted header and never verified.
type Identity struct {
	Source  CredentialSource
	Token   *jwt.IDToken
	Subject string
	Email   string
}

// Authenticated reports whether any credential matched
func (i Identity) Authenticated() bool {
	return i.Source != SourceNone
}

// Verified reports whether the identity is backed by a checked ID token
func (i Identity) Verified() bool {
	return (i.Source == SourceCookie || i.Source == SourceBearer) && i.Token != nil
}

func identityFromToken(source CredentialSource, token *jwt.IDToken) Identity {
	return Identity{
		Source:  source,
		Token:   token,
		Subject: token.Claims.Subject,
		Email:   token.Claims.Email,
	}
}
