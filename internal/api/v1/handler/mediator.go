package handler

import (
	"net/http"

	"app/internal/auth"
	"app/internal/middleware"
	"app/internal/model"
)

// authorizeOwner binds the verified identity to the path-declared owner.
// A subject that does not match the owner id gets the same unauthorized
// response as a missing credential.
func authorizeOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	accountID := r.PathValue("accountID")
	if accountID == "" || model.NormalizeAccountID(claims.Subject) != accountID {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return accountID, true
}

// authorize additionally requires the capability for the operation. The
// scope check runs before any store access.
func authorize(w http.ResponseWriter, r *http.Request, scope auth.Scope) (string, bool) {
	accountID, ok := authorizeOwner(w, r)
	if !ok {
		return "", false
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if !claims.HasScope(scope) {
		http.Error(w, "insufficient scope", http.StatusForbidden)
		return "", false
	}
	return accountID, true
}
