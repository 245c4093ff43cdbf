package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "flaggate/pkg/domainerrors"
	"flaggate/pkg/platform/httputil"
	"flaggate/pkg/requestcontext"
)

// AdminAuth guards mutating and administrative endpoints. Callers present
// either the shared API key (X-API-Key) or an HMAC-signed bearer token minted
// out of band with the same signing key. Read paths are deliberately left
// open: evaluation is the hot path and must stay available.
type AdminAuth struct {
	apiKey     string
	signingKey []byte
	logger     *slog.Logger
}

// AdminClaims carries the actor identity inside admin bearer tokens.
type AdminClaims struct {
	Actor string `json:"actor"`
	jwt.RegisteredClaims
}

func NewAdminAuth(apiKey, jwtSigningKey string, logger *slog.Logger) *AdminAuth {
	return &AdminAuth{
		apiKey:     apiKey,
		signingKey: []byte(jwtSigningKey),
		logger:     logger,
	}
}

// Enabled reports whether a credential is configured. When false the
// middleware passes everything through (development mode).
func (a *AdminAuth) Enabled() bool {
	return a.apiKey != ""
}

// Require rejects requests that present no valid credential. Missing
// credentials get 401, bad ones 403, matching the service's public contract.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1 {
				next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), "api-key")))
				return
			}
			a.warn(r, "invalid api key")
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "invalid API key"))
			return
		}

		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			claims, err := a.validateToken(token)
			if err != nil {
				a.warn(r, "invalid bearer token")
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "invalid bearer token"))
				return
			}
			actor := claims.Actor
			if actor == "" {
				actor = claims.Subject
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), actor)))
			return
		}

		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized,
			"credential required: provide X-API-Key or a bearer token"))
	})
}

func (a *AdminAuth) validateToken(tokenString string) (*AdminClaims, error) {
	if len(a.signingKey) == 0 {
		return nil, jwt.ErrTokenUnverifiable
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (a *AdminAuth) warn(r *http.Request, msg string) {
	if a.logger == nil {
		return
	}
	a.logger.WarnContext(r.Context(), msg,
		"request_id", requestcontext.RequestID(r.Context()),
		"path", r.URL.Path,
	)
}
