package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Defaults applied when VerifierConfig leaves the JWKS timing fields zero.
const (
	DefaultJWKSRefreshInterval = 15 * time.Minute
	DefaultJWKSCacheTimeout    = time.Hour

	// jwksMissRefreshBackoff bounds how often an unknown kid may force an
	// out-of-schedule JWKS refresh (key rotation happens between refreshes).
	jwksMissRefreshBackoff = 30 * time.Second
)

// VerifierConfig configures token verification.
type VerifierConfig struct {
	// Algorithm selects the verification mode: "RS256" or "HS256".
	Algorithm string

	// RS256: a fixed PEM public key, a JWKS endpoint, or both (the PEM
	// key serves tokens without a kid header).
	PublicKeyPEM string
	JWKSURL      string

	// HS256: shared secret. Suits a single-box deployment where
	// provisioning an RSA keypair buys nothing.
	SecretKey string

	JWKSRefreshInterval time.Duration
	JWKSCacheTimeout    time.Duration
}

// JWK is one RSA signing key of a JWKS document.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served by a JWKS endpoint.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type jwksCacheEntry struct {
	key     *rsa.PublicKey
	fetched time.Time
}

// Verifier validates bearer tokens and extracts their claims.
type Verifier struct {
	config     VerifierConfig
	publicKey  *rsa.PublicKey
	httpClient *http.Client

	mu        sync.RWMutex
	jwksCache map[string]jwksCacheEntry
	lastFetch time.Time
}

// NewVerifier builds a verifier for the configured mode. RS256 with a
// JWKS URL fetches the key set eagerly so misconfiguration surfaces at
// startup rather than on the first request.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if config.JWKSRefreshInterval <= 0 {
		config.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
	if config.JWKSCacheTimeout <= 0 {
		config.JWKSCacheTimeout = DefaultJWKSCacheTimeout
	}

	v := &Verifier{
		config:    config,
		jwksCache: make(map[string]jwksCacheEntry),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	switch config.Algorithm {
	case "RS256":
		if config.PublicKeyPEM == "" && config.JWKSURL == "" {
			return nil, fmt.Errorf("RS256 requires a public key PEM or a JWKS URL")
		}
		if config.PublicKeyPEM != "" {
			if err := v.loadPublicKeyFromPEM(config.PublicKeyPEM); err != nil {
				return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
			}
		}
		if config.JWKSURL != "" {
			if err := v.refreshJWKS(); err != nil {
				return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
			}
		}
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires a secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", config.Algorithm)
	}

	return v, nil
}

// VerifyToken validates a bearer token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	switch v.config.Algorithm {
	case "RS256":
		return v.verifyRS256Token(tokenString)
	case "HS256":
		return v.verifyHS256Token(tokenString)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %q", v.config.Algorithm)
	}
}

func (v *Verifier) verifyRS256Token(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "RS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			// No kid: fall back to the fixed key.
			if v.publicKey == nil {
				return nil, fmt.Errorf("token has no kid and no fixed public key is configured")
			}
			return v.publicKey, nil
		}
		return v.keyForKid(kid)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return extractClaims(claims)
}

func (v *Verifier) verifyHS256Token(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return extractClaims(claims)
}

// extractClaims pulls the subject, roles, and scopes out of the verified
// token and validates them against the known role/scope vocabulary.
func extractClaims(claims *jwt.MapClaims) (*Claims, error) {
	sub, ok := (*claims)["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	roles, err := extractStringSlice(claims, "roles")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'roles' claim: %w", err)
	}
	scopes, err := extractStringSlice(claims, "scopes")
	if err != nil {
		return nil, fmt.Errorf("missing or invalid 'scopes' claim: %w", err)
	}

	if !validRoles(roles) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !validScopes(scopes) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}

	return &Claims{
		Subject: sub,
		Roles:   roles,
		Scopes:  scopes,
	}, nil
}

func extractStringSlice(claims *jwt.MapClaims, key string) ([]string, error) {
	value, ok := (*claims)[key]
	if !ok {
		return nil, fmt.Errorf("missing claim: %s", key)
	}

	switch val := value.(type) {
	case []string:
		return val, nil
	case []interface{}:
		result := make([]string, len(val))
		for i, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s claim: not a string", key)
			}
			result[i] = str
		}
		return result, nil
	default:
		return nil, fmt.Errorf("invalid %s claim: not a string array", key)
	}
}

func validRoles(roles []string) bool {
	known := map[string]bool{
		RoleViewer:     true,
		RoleController: true,
	}
	for _, role := range roles {
		if !known[role] {
			return false
		}
	}
	return len(roles) > 0
}

func validScopes(scopes []string) bool {
	known := map[string]bool{
		ScopeRead:      true,
		ScopeControl:   true,
		ScopeTelemetry: true,
	}
	for _, scope := range scopes {
		if !known[scope] {
			return false
		}
	}
	return len(scopes) > 0
}

func (v *Verifier) loadPublicKeyFromPEM(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("not an RSA public key")
	}

	v.publicKey = rsaPub
	return nil
}

// keyForKid resolves a kid against the JWKS cache, refreshing the key set
// when the schedule says so or when an unknown kid suggests a rotation.
func (v *Verifier) keyForKid(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	entry, exists := v.jwksCache[kid]
	fresh := exists && time.Since(entry.fetched) < v.config.JWKSCacheTimeout
	due := time.Since(v.lastFetch) > v.config.JWKSRefreshInterval
	missBackoffOver := time.Since(v.lastFetch) > jwksMissRefreshBackoff
	v.mu.RUnlock()

	if fresh {
		return entry.key, nil
	}
	if !due && exists {
		// Stale but known; no refresh due yet.
		return entry.key, nil
	}
	if !due && !missBackoffOver {
		return nil, fmt.Errorf("key not found: %s", kid)
	}

	if err := v.refreshJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}

	v.mu.RLock()
	entry, exists = v.jwksCache[kid]
	v.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return entry.key, nil
}

// refreshJWKS fetches the key set and replaces the cache with the RSA
// signing keys it carries.
func (v *Verifier) refreshJWKS() error {
	if v.config.JWKSURL == "" {
		return fmt.Errorf("JWKS URL not configured")
	}

	resp, err := v.httpClient.Get(v.config.JWKSURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	var jwks JWKSet
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	cache := make(map[string]jwksCacheEntry, len(jwks.Keys))
	now := time.Now()
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" || key.Alg != "RS256" {
			continue
		}
		pubKey, err := jwkToRSAPublicKey(key)
		if err != nil {
			continue // skip malformed keys, keep the rest
		}
		cache[key.Kid] = jwksCacheEntry{key: pubKey, fetched: now}
	}

	v.mu.Lock()
	v.jwksCache = cache
	v.lastFetch = now
	v.mu.Unlock()
	return nil
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	n, err := base64URLDecode(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	e, err := base64URLDecode(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp int
	for _, b := range e {
		exp = exp<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: exp,
	}, nil
}

// base64URLDecode tolerates both padded and unpadded base64url input;
// JWKS documents in the wild ship either.
func base64URLDecode(data string) ([]byte, error) {
	data = strings.TrimRight(data, "=")
	return base64.RawURLEncoding.DecodeString(data)
}
