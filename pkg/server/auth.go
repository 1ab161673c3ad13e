package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gridboost/gridboost/pkg/log"
)

type tokenClaims struct {
	Subject string
	Email   string
}

// tokenVerifier validates a raw ID token and returns its claims.
type tokenVerifier func(ctx context.Context, rawIDToken string) (tokenClaims, error)

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, raw string) (tokenClaims, error) {
		idToken, err := v.Verify(ctx, raw)
		if err != nil {
			return tokenClaims{}, err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified *bool  `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return tokenClaims{}, fmt.Errorf("failed to parse claims: %w", err)
		}
		if claims.EmailVerified != nil && !*claims.EmailVerified {
			return tokenClaims{}, errors.New("email is not verified")
		}
		return tokenClaims{Subject: idToken.Subject, Email: claims.Email}, nil
	}
}

// authMiddleware tags the request logger and requires a bearer ID token of
// an admin on every request that changes state.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))
		r = r.WithContext(ctx)

		if r.Method == http.MethodGet || r.Method == http.MethodHead || s.bypassAuth {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if !s.isAdmin(claims.Email) {
			log.Ctx(ctx).WarnContext(ctx, "unauthorized email", slog.String("email", claims.Email), slog.String("subject", claims.Subject))
			writeJSONError(w, "unauthorized", http.StatusForbidden)
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "authorized", slog.String("email", claims.Email))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (tokenClaims, error) {
	var errs []error
	for name, verifier := range s.oidcVerifiers {
		claims, err := verifier(ctx, token)
		if err == nil {
			return claims, nil
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %w", name, err))
	}
	if len(errs) > 0 {
		return tokenClaims{}, errors.Join(errs...)
	}
	return tokenClaims{}, errors.New("no verifiers configured")
}

func (s *Server) isAdmin(email string) bool {
	if email == "" {
		return false
	}
	for _, admin := range s.adminEmails {
		if subtle.ConstantTimeCompare([]byte(email), []byte(admin)) == 1 {
			return true
		}
	}
	return false
}
