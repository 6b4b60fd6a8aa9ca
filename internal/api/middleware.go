/**
 * @description
 * Authentication middleware for the wheel API. Bearer tokens are verified against the
 * identity provider's JWKS and the `sub` claim becomes the caller principal.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: token parsing and validation.
 *
 * @notes
 * - Public routes use OptionalAuth: a request without an Authorization header runs as
 *   the anonymous principal and the service decides what it may see.
 * - A request that does send a token must send a valid one on every route.
 */

package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
)

type principalContextKey string

const callerPrincipalKey principalContextKey = "callerPrincipal"

const jwksRefreshInterval = 10 * time.Minute

// AuthOptions holds the optional claim checks applied to every token.
type AuthOptions struct {
	Audience string
	Issuer   string
}

// JWKSKeySet caches the RSA keys published at a JWKS endpoint. Unknown key ids trigger a
// refetch, rate limited to one per minute.
type JWKSKeySet struct {
	url    string
	client *http.Client

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	lastAttempt time.Time
}

func NewJWKSKeySet(url string) *JWKSKeySet {
	return &JWKSKeySet{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   map[string]*rsa.PublicKey{},
	}
}

// Keyfunc resolves the verification key of a token.
func (s *JWKSKeySet) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("kid not found in token header")
	}
	return s.key(kid)
}

func (s *JWKSKeySet) key(kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[kid]
	stale := time.Since(s.fetchedAt) > jwksRefreshInterval
	if ok && !stale {
		return key, nil
	}
	if !ok && time.Since(s.lastAttempt) < time.Minute && !stale {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}

	s.lastAttempt = time.Now()
	keys, err := fetchJWKS(s.client, s.url)
	if err != nil {
		if ok {
			// Serve the cached key while the endpoint is unreachable.
			return key, nil
		}
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	s.keys = keys
	s.fetchedAt = time.Now()

	key, ok = s.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

func fetchJWKS(client *http.Client, url string) (map[string]*rsa.PublicKey, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "" && key.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key.Kid, err)
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

// parseRSAPublicKey parses an RSA public key from its base64url modulus and exponent.
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("invalid exponent length %d", len(eb))
	}

	var exp int
	for _, b := range eb {
		exp = exp<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: exp}, nil
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(keyfunc jwt.Keyfunc, opts AuthOptions) func(http.Handler) http.Handler {
	return authMiddleware(keyfunc, opts, true)
}

// OptionalAuth lets requests without an Authorization header through as the anonymous
// principal.
func OptionalAuth(keyfunc jwt.Keyfunc, opts AuthOptions) func(http.Handler) http.Handler {
	return authMiddleware(keyfunc, opts, false)
}

func authMiddleware(keyfunc jwt.Keyfunc, opts AuthOptions, required bool) func(http.Handler) http.Handler {
	parserOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"})}
	if opts.Audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(opts.Audience))
	}
	if opts.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(opts.Issuer))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Authorization header required")
					return
				}
				next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), domain.AnonymousPrincipal)))
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid Authorization header format")
				return
			}

			token, err := jwt.Parse(tokenString, keyfunc, parserOptions...)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid token")
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || strings.TrimSpace(subject) == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Principal not found in token")
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), subject)))
		})
	}
}

// InternalAuthMiddleware guards service-to-service routes. With an empty key every
// request is rejected.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func withPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, callerPrincipalKey, principal)
}

// CallerPrincipal returns the principal of the request, or the anonymous principal.
func CallerPrincipal(ctx context.Context) string {
	principal, ok := ctx.Value(callerPrincipalKey).(string)
	if !ok || principal == "" {
		return domain.AnonymousPrincipal
	}
	return principal
}
