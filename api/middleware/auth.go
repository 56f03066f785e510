package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/fieldsync/api/responses"
	pkgAuth "github.com/angelmondragon/fieldsync/pkg/auth"
	"github.com/angelmondragon/fieldsync/pkg/config"
	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
	"github.com/angelmondragon/fieldsync/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the rep's user id.
// The event stream may pass the token as ?access_token= since EventSource cannot set headers.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" && r.Method == http.MethodGet {
		token = strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return token
}
