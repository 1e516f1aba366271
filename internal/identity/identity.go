// Package identity authenticates the actors who write to the ledger.
//
// It provides:
//   - LoadOrCreateKey: loads the RSA signing key from disk, creating it on first run
//   - TokenIssuer: issues and verifies RS256 actor tokens
//   - RequireActor: Gin middleware enforcing a Bearer actor token
//   - HeaderActor: Gin middleware trusting an upstream X-Actor-ID header
//   - JWKS: serves the verification key at /.well-known/jwks.json
package identity
