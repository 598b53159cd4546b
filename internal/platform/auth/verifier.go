package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/litlb/coupon-api/internal/platform/httpx"
)

var (
	// ErrTokenMissing indicates no bearer token was present on the request.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrTokenInvalid indicates the bearer token failed verification.
	ErrTokenInvalid = errors.New("auth: bearer token invalid")
)

// TokenVerifier validates signed bearer tokens against a JWKS cache.
type TokenVerifier struct {
	cache    *JWKSCache
	issuers  map[string]struct{}
	audience string
	logger   Logger
	now      func() time.Time
}

// VerifierOption customises the verifier.
type VerifierOption func(*TokenVerifier)

// NewTokenVerifier constructs a TokenVerifier bound to the expected audience and issuers.
func NewTokenVerifier(cache *JWKSCache, audience string, issuers []string, opts ...VerifierOption) (*TokenVerifier, error) {
	if cache == nil {
		return nil, errors.New("auth: jwks cache is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("auth: audience is required")
	}

	allowed := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			continue
		}
		allowed[issuer] = struct{}{}
	}

	verifier := &TokenVerifier{
		cache:    cache,
		issuers:  allowed,
		audience: audience,
		logger:   log.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}

	return verifier, nil
}

// WithVerifierLogger overrides the verifier logger.
func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *TokenVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierClock injects a custom clock (primarily for testing).
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *TokenVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verify parses and validates the bearer token, returning the caller identity.
func (v *TokenVerifier) Verify(ctx context.Context, tokenStr string) (*Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrTokenMissing
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	issuer, _ := claims["iss"].(string)
	if len(v.issuers) > 0 {
		if _, ok := v.issuers[issuer]; !ok {
			return nil, fmt.Errorf("%w: issuer %q not allowed", ErrTokenInvalid, issuer)
		}
	}

	if !containsString(audienceFromClaims(claims), v.audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	email, _ := claims["email"].(string)

	return &Identity{
		UID:    subject,
		Email:  email,
		Scopes: scopesFromClaims(claims),
		Claims: cloneClaims(claims),
	}, nil
}

// RequireBearer enforces a valid bearer token and stores the identity in context.
func (v *TokenVerifier) RequireBearer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "bearer token missing", http.StatusUnauthorized))
				return
			}

			identity, err := v.Verify(ctx, token)
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "token verification unavailable", http.StatusServiceUnavailable))
					return
				}
				if v.logger != nil {
					v.logger.Printf("auth: bearer verification failed: %v", err)
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "bearer token verification failed", http.StatusUnauthorized))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func audienceFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["aud"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []string{strings.TrimSpace(v)}
	case []string:
		out := make([]string, 0, len(v))
		for _, item := range v {
			item = strings.TrimSpace(item)
			if item != "" {
				out = append(out, item)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			str = strings.TrimSpace(str)
			if str == "" {
				continue
			}
			out = append(out, str)
		}
		return out
	default:
		return nil
	}
}

func scopesFromClaims(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"].(string)
	if !ok {
		return nil
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func cloneClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out
}
