package auth

import (
	"fmt"
	"strings"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/jrsteele09/go-visit-sessions/internal/utils"
)

// AnyEmail on the allow-list admits every verified email
const AnyEmail = "*"

// Authorizer decides whether an authenticated identity may use the service
type Authorizer struct {
	allowedEmails  map[string]struct{}
	trustedCallers map[string]struct{}
}

// NewAuthorizer creates an authorizer. Empty lists admit nobody: an empty
// email list closes cookie and bearer access and an empty caller list
// closes platform access.
func NewAuthorizer(allowedEmails, trustedCallers []string) *Authorizer {
	return &Authorizer{
		allowedEmails:  utils.ToSet(allowedEmails),
		trustedCallers: utils.ToSet(trustedCallers),
	}
}

// Authorize returns ErrUnauthenticated or ErrForbidden when access is denied
func (a *Authorizer) Authorize(id Identity) error {
	switch id.Source {
	case SourceNone:
		return apperrors.ErrUnauthenticated

	case SourceFake:
		return nil

	case SourcePlatform:
		if _, ok := a.trustedCallers[strings.ToLower(id.Subject)]; ok {
			return nil
		}
		return fmt.Errorf("%w: caller %q is not trusted", apperrors.ErrForbidden, id.Subject)

	case SourceCookie, SourceBearer:
		if !id.Verified() {
			return apperrors.ErrUnauthenticated
		}
		if _, ok := a.allowedEmails[AnyEmail]; ok && id.Email != "" {
			return nil
		}
		if _, ok := a.allowedEmails[strings.ToLower(id.Email)]; ok && id.Email != "" {
			return nil
		}
		return fmt.Errorf("%w: %q is not on the allow-list", apperrors.ErrForbidden, id.Email)
	}
	return apperrors.ErrUnauthenticated
}
