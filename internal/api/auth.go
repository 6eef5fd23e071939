package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RoleHeader carries the caller's role for HeaderAuthenticator.
const RoleHeader = "X-Role"

// ErrUnauthenticated is returned when a request carries no identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the role of an incoming request.
// A deployment backed by an identity provider supplies its own.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Role, error)
}

// HeaderAuthenticator trusts the X-Role header. Use it only behind a proxy
// that sets the header itself.
type HeaderAuthenticator struct {
	// Default is used when the header is absent. Empty rejects the request.
	Default domain.Role
}

// Authenticate implements Authenticator.
func (a HeaderAuthenticator) Authenticate(r *http.Request) (domain.Role, error) {
	raw := strings.TrimSpace(r.Header.Get(RoleHeader))
	if raw == "" {
		if a.Default == "" {
			return "", ErrUnauthenticated
		}
		return a.Default, nil
	}
	return domain.ParseRole(strings.ToLower(raw))
}
