package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type identityContextKey struct{}

func identityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(identityContextKey{}).(string)
	return identity
}

// tokenVerifier resolves a bearer token to an identity. Tokens are HS256
// with a required audience; the subject is the identity.
type tokenVerifier struct {
	secret   []byte
	audience string
	required bool
	logger   *slog.Logger
}

func newTokenVerifier(secret, audience string, required bool, logger *slog.Logger) *tokenVerifier {
	return &tokenVerifier{
		secret:   []byte(secret),
		audience: audience,
		required: required,
		logger:   logger.With("component", "auth"),
	}
}

func (v *tokenVerifier) verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return subject, nil
}

// middleware attaches the caller identity. Without a configured secret
// callers are anonymous unless auth is required, in which case nothing can
// be verified and every request is refused.
func (v *tokenVerifier) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(v.secret) == 0 || header == "" {
			if v.required {
				writeError(w, domain.NewFailure(domain.ErrUnauthorized, "authorization required"), false)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			writeError(w, domain.NewFailure(domain.ErrUnauthorized, "expected a bearer token"), false)
			return
		}
		identity, err := v.verify(strings.TrimSpace(raw))
		if err != nil {
			v.logger.Debug("token_rejected", "error", err, "request_id", requestIDFromContext(r.Context()))
			writeError(w, domain.NewFailure(domain.ErrUnauthorized, "invalid or expired token"), false)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
