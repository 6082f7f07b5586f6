package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sys3222/akshare-mcp-adapter/internal/auth"
	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
)

type ctxKey string

const usernameKey ctxKey = "username"

// writeJSON serializes data as the response body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeErr renders err as the spec's {detail: ...} envelope and the
// HTTP status its kind maps to. Internal details never cross the
// boundary; only errs.Message(err)'s human-readable text is echoed.
func writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, errs.Status(kind), map[string]string{"detail": errs.Message(err)})
}

// requireAuth extracts the bearer token, validates it via the token
// service, and attaches the resolved username to the request context.
// On failure it returns 401 without distinguishing malformed from
// expired beyond that coarse category.
func requireAuth(tokens *auth.TokenService) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				writeErr(w, errs.New(errs.Unauthorized, "missing or malformed authorization header"))
				return
			}
			username, err := tokens.Validate(parts[1])
			if err != nil {
				writeErr(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), usernameKey, username)
			next(w, r.WithContext(ctx))
		}
	}
}

func usernameFrom(r *http.Request) string {
	u, _ := r.Context().Value(usernameKey).(string)
	return u
}
