package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func publicKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign HS256 token: %v", err)
	}
	return token
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign RS256 token: %v", err)
	}
	return signed
}

func controllerClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    sub,
		"roles":  []string{RoleController},
		"scopes": []string{ScopeRead, ScopeControl, ScopeTelemetry},
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
}

// jwksDocument builds a JWKS JSON body for the given keys.
func jwksDocument(t *testing.T, keys map[string]*rsa.PublicKey) []byte {
	t.Helper()
	set := JWKSet{}
	for kid, pub := range keys {
		set.Keys = append(set.Keys, JWK{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(bigEndianInt(pub.E)),
		})
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	return body
}

func bigEndianInt(n int) []byte {
	var out []byte
	for n > 0 {
		out = append([]byte{byte(n & 0xff)}, out...)
		n >>= 8
	}
	return out
}

func TestNewVerifier(t *testing.T) {
	key := generateTestKey(t)

	tests := []struct {
		name    string
		config  VerifierConfig
		wantErr bool
	}{
		{
			name: "RS256 with PEM",
			config: VerifierConfig{
				Algorithm:    "RS256",
				PublicKeyPEM: publicKeyPEM(t, key),
			},
		},
		{
			name: "RS256 with unreachable JWKS",
			config: VerifierConfig{
				Algorithm: "RS256",
				JWKSURL:   "http://127.0.0.1:1/jwks.json",
			},
			wantErr: true,
		},
		{
			name:    "RS256 with neither key source",
			config:  VerifierConfig{Algorithm: "RS256"},
			wantErr: true,
		},
		{
			name:   "HS256 with secret",
			config: VerifierConfig{Algorithm: "HS256", SecretKey: "test-secret"},
		},
		{
			name:    "HS256 without secret",
			config:  VerifierConfig{Algorithm: "HS256"},
			wantErr: true,
		},
		{
			name:    "unsupported algorithm",
			config:  VerifierConfig{Algorithm: "ES256"},
			wantErr: true,
		},
		{
			name:    "empty algorithm",
			config:  VerifierConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier, err := NewVerifier(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVerifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && verifier == nil {
				t.Error("NewVerifier() returned nil verifier")
			}
		})
	}
}

func TestNewVerifierAppliesJWKSDefaults(t *testing.T) {
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: "s"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	if verifier.config.JWKSRefreshInterval != DefaultJWKSRefreshInterval {
		t.Errorf("JWKSRefreshInterval = %v, want default %v", verifier.config.JWKSRefreshInterval, DefaultJWKSRefreshInterval)
	}
	if verifier.config.JWKSCacheTimeout != DefaultJWKSCacheTimeout {
		t.Errorf("JWKSCacheTimeout = %v, want default %v", verifier.config.JWKSCacheTimeout, DefaultJWKSCacheTimeout)
	}
}

func TestVerifyHS256Token(t *testing.T) {
	const secret = "test-secret-key"
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: secret})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	claims, err := verifier.VerifyToken(signHS256(t, secret, jwt.MapClaims{
		"sub":    "operator-1",
		"roles":  []string{RoleViewer},
		"scopes": []string{ScopeRead, ScopeTelemetry},
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(time.Hour).Unix(),
	}))
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}

	if claims.Subject != "operator-1" {
		t.Errorf("Subject = %q, want operator-1", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleViewer {
		t.Errorf("Roles = %v, want [%s]", claims.Roles, RoleViewer)
	}
	if len(claims.Scopes) != 2 {
		t.Errorf("Scopes = %v, want read+telemetry", claims.Scopes)
	}
}

func TestVerifyHS256TokenErrors(t *testing.T) {
	const secret = "test-secret-key"
	verifier, err := NewVerifier(VerifierConfig{Algorithm: "HS256", SecretKey: secret})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	rsaKey := generateTestKey(t)

	expired := controllerClaims("operator-1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	badRole := controllerClaims("operator-1")
	badRole["roles"] = []string{"superuser"}

	badScope := controllerClaims("operator-1")
	badScope["scopes"] = []string{"root"}

	noSub := controllerClaims("operator-1")
	delete(noSub, "sub")

	scalarRoles := controllerClaims("operator-1")
	scalarRoles["roles"] = "controller"

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{"wrong secret", signHS256(t, "other-secret", controllerClaims("operator-1"))},
		{"wrong algorithm", signRS256(t, rsaKey, "", controllerClaims("operator-1"))},
		{"expired", signHS256(t, secret, expired)},
		{"unknown role", signHS256(t, secret, badRole)},
		{"unknown scope", signHS256(t, secret, badScope)},
		{"missing sub", signHS256(t, secret, noSub)},
		{"roles not an array", signHS256(t, secret, scalarRoles)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := verifier.VerifyToken(tt.token); err == nil {
				t.Error("VerifyToken() accepted an invalid token")
			}
		})
	}
}

func TestVerifyRS256TokenWithPEM(t *testing.T) {
	key := generateTestKey(t)
	verifier, err := NewVerifier(VerifierConfig{
		Algorithm:    "RS256",
		PublicKeyPEM: publicKeyPEM(t, key),
	})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	claims, err := verifier.VerifyToken(signRS256(t, key, "", controllerClaims("admin-1")))
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "admin-1" {
		t.Errorf("Subject = %q, want admin-1", claims.Subject)
	}
	if len(claims.Scopes) != 3 {
		t.Errorf("Scopes = %v, want all three", claims.Scopes)
	}

	// A token signed by a different key must fail.
	other := generateTestKey(t)
	if _, err := verifier.VerifyToken(signRS256(t, other, "", controllerClaims("admin-1"))); err == nil {
		t.Error("VerifyToken() accepted a token signed by an unknown key")
	}

	// HS256 tokens must be rejected in RS256 mode.
	if _, err := verifier.VerifyToken(signHS256(t, "secret", controllerClaims("admin-1"))); err == nil {
		t.Error("VerifyToken() accepted an HS256 token in RS256 mode")
	}
}

func TestVerifyRS256TokenWithJWKS(t *testing.T) {
	key := generateTestKey(t)
	jwks := jwksDocument(t, map[string]*rsa.PublicKey{"key-1": &key.PublicKey})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	}))
	defer server.Close()

	verifier, err := NewVerifier(VerifierConfig{
		Algorithm: "RS256",
		JWKSURL:   server.URL,
	})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	claims, err := verifier.VerifyToken(signRS256(t, key, "key-1", controllerClaims("admin-2")))
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if claims.Subject != "admin-2" {
		t.Errorf("Subject = %q, want admin-2", claims.Subject)
	}

	// Unknown kid with no fixed key fails.
	if _, err := verifier.VerifyToken(signRS256(t, key, "key-9", controllerClaims("admin-2"))); err == nil {
		t.Error("VerifyToken() accepted a token with an unknown kid")
	}

	// kid-less token with no fixed PEM key fails.
	if _, err := verifier.VerifyToken(signRS256(t, key, "", controllerClaims("admin-2"))); err == nil {
		t.Error("VerifyToken() accepted a kid-less token without a fixed key")
	}
}

func TestJWKSRotationRefetch(t *testing.T) {
	oldKey := generateTestKey(t)
	newKey := generateTestKey(t)

	var fetches int
	current := jwksDocument(t, map[string]*rsa.PublicKey{"key-old": &oldKey.PublicKey})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(current)
	}))
	defer server.Close()

	verifier, err := NewVerifier(VerifierConfig{
		Algorithm: "RS256",
		JWKSURL:   server.URL,
	})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	if fetches != 1 {
		t.Fatalf("initial fetches = %d, want 1", fetches)
	}

	// Rotate the served key set; the unknown kid forces a refetch once
	// the miss backoff has elapsed.
	current = jwksDocument(t, map[string]*rsa.PublicKey{"key-new": &newKey.PublicKey})
	verifier.mu.Lock()
	verifier.lastFetch = time.Now().Add(-time.Minute)
	verifier.mu.Unlock()

	claims, err := verifier.VerifyToken(signRS256(t, newKey, "key-new", controllerClaims("admin-3")))
	if err != nil {
		t.Fatalf("VerifyToken() after rotation error = %v", err)
	}
	if claims.Subject != "admin-3" {
		t.Errorf("Subject = %q, want admin-3", claims.Subject)
	}
	if fetches != 2 {
		t.Errorf("fetches after rotation = %d, want 2", fetches)
	}
}

func TestJWKSSkipsNonSigningKeys(t *testing.T) {
	key := generateTestKey(t)
	set := JWKSet{Keys: []JWK{
		{Kty: "EC", Kid: "ec-1", Use: "sig", Alg: "ES256"},
		{Kty: "RSA", Kid: "enc-1", Use: "enc", Alg: "RS256"},
		{
			Kty: "RSA", Kid: "key-1", Use: "sig", Alg: "RS256",
			N: base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E: base64.RawURLEncoding.EncodeToString(bigEndianInt(key.PublicKey.E)),
		},
	}}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	verifier, err := NewVerifier(VerifierConfig{Algorithm: "RS256", JWKSURL: server.URL})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	verifier.mu.RLock()
	defer verifier.mu.RUnlock()
	if len(verifier.jwksCache) != 1 {
		t.Fatalf("cached keys = %d, want 1 (only the RSA signing key)", len(verifier.jwksCache))
	}
	if _, ok := verifier.jwksCache["key-1"]; !ok {
		t.Error("RSA signing key key-1 missing from cache")
	}
}

func TestJWKSFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	if _, err := NewVerifier(VerifierConfig{Algorithm: "RS256", JWKSURL: server.URL}); err == nil {
		t.Error("NewVerifier() succeeded against a failing JWKS endpoint")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer bad.Close()

	if _, err := NewVerifier(VerifierConfig{Algorithm: "RS256", JWKSURL: bad.URL}); err == nil {
		t.Error("NewVerifier() succeeded against a malformed JWKS document")
	}
}

func TestBase64URLDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unpadded", "aGVsbG8", "hello"},
		{"padded one", "aGVsbG8h", "hello!"},
		{"single padding stripped", "aGVsbG8=", "hello"},
		{"double padding stripped", "aA==", "h"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := base64URLDecode(tt.input)
			if err != nil {
				t.Fatalf("base64URLDecode(%q) error = %v", tt.input, err)
			}
			if string(got) != tt.want {
				t.Errorf("base64URLDecode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if _, err := base64URLDecode("!!!"); err == nil {
		t.Error("base64URLDecode accepted invalid input")
	}
}

func TestLoadPublicKeyFromPEMErrors(t *testing.T) {
	tests := []struct {
		name string
		pem  string
	}{
		{"not pem", "garbage"},
		{"wrong block", "-----BEGIN CERTIFICATE-----\naGVsbG8=\n-----END CERTIFICATE-----"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(VerifierConfig{Algorithm: "RS256", PublicKeyPEM: tt.pem})
			if err == nil {
				t.Error("NewVerifier() accepted an invalid PEM key")
			}
		})
	}
}
