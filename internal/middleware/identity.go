package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/threadloom/backend/internal/model/chat"
	"github.com/threadloom/backend/pkg/utils"
)

// Sign-in is handled upstream by the passwordless auth provider; by the
// time a request reaches this service the auth terminator has resolved
// the subject and forwards it in these headers.
const (
	headerUserID    = "X-User-Id"
	headerUserEmail = "X-User-Email"
)

type identityKey struct{}

// Identity extracts the authenticated subject from the request and
// rejects requests without one. Every downstream store operation takes
// the identity explicitly; nothing reads it ambiently.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(headerUserID))
		if subject == "" {
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		identity := chat.Identity{
			Subject: subject,
			Email:   strings.TrimSpace(r.Header.Get(headerUserEmail)),
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity chat.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity placed on the context by Identity.
func IdentityFrom(ctx context.Context) (chat.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(chat.Identity)
	return identity, ok && !identity.Zero()
}
