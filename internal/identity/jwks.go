package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"net/http"

	"github.com/gin-gonic/gin"
)

const signingKeyID = "ledger-actor-key-1"

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// RegisterJWKS serves the actor token verification key so that other
// services can validate tokens without sharing the private key.
func RegisterJWKS(r gin.IRoutes, tokens *TokenIssuer) {
	set := JWKSet{Keys: []JWK{publicKeyToJWK(tokens.PublicKey(), signingKeyID)}}
	r.GET("/.well-known/jwks.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, set)
	})
}

// publicKeyToJWK encodes an RSA public key as a JWK (RFC 7518 section 6.3).
func publicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(pub.E))
	i := 0
	for i < len(eBuf)-1 && eBuf[i] == 0 {
		i++
	}
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(eBuf[i:]),
	}
}
