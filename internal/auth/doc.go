// Package auth implements bearer-token authentication for the Bluetooth
// control daemon.
//
// Tokens are JWTs verified with HS256 (shared secret) or RS256 (fixed PEM
// key or a JWKS endpoint). Verified claims carry roles (viewer,
// controller) and scopes (read, control, telemetry); the API layer wraps
// handlers with RequireAuth and RequireScope. When auth is disabled by
// configuration no middleware is installed at all.
//
// Architecture References:
//   - Architecture §7.1: Token verification modes
//   - Architecture §7.2: Roles and scopes
package auth
