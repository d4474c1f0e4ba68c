package validators

import (
	"net/http"

	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated user identity. Authentication itself
// lives at the edge; this service trusts the header the gateway injects.
const UserIDHeader = "X-User-ID"

// UserIDFromRequest extracts and parses the caller's user id.
func UserIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "malformed user identity")
	}
	return id, nil
}
