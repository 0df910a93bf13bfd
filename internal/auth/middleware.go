package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the middlewares.
const (
	ClaimsKey    = "claims"
	PrincipalKey = "principal"
	APIKeyHeader = "X-API-Key"
)

// BearerAuth enforces HS256 bearer tokens. When roles are given the token
// must carry one of them.
func BearerAuth(signingKey, issuer string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid token"})
			return
		}
		if len(roles) > 0 && !hasRole(claims.Role, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "role not allowed"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Set(PrincipalKey, claims.Role+":"+claims.Subject)
		c.Next()
	}
}

// APIKeyAuth accepts requests carrying one of keys in X-API-Key.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "API key missing"})
			return
		}
		if !validKey(key, keys) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": "invalid API key"})
			return
		}
		c.Set(PrincipalKey, "key:"+keyFingerprint(key))
		c.Next()
	}
}

// ScanAuth admits scanners by API key or by a device bearer token.
func ScanAuth(keys []string, signingKey, issuer string) gin.HandlerFunc {
	byKey := APIKeyAuth(keys)
	byToken := BearerAuth(signingKey, issuer, RoleDevice)
	return func(c *gin.Context) {
		if c.GetHeader(APIKeyHeader) != "" {
			byKey(c)
			return
		}
		byToken(c)
	}
}

// ReadAuth admits API keys and any session or device bearer token.
func ReadAuth(keys []string, signingKey, issuer string) gin.HandlerFunc {
	byKey := APIKeyAuth(keys)
	byToken := BearerAuth(signingKey, issuer, RoleUser, RoleAdmin, RoleDevice)
	return func(c *gin.Context) {
		if c.GetHeader(APIKeyHeader) != "" {
			byKey(c)
			return
		}
		byToken(c)
	}
}

// ClaimsFrom returns the bearer claims stored on the context, if any.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("bearer "):])
	return tok, tok != ""
}

func validKey(key string, keys []string) bool {
	found := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			found = true
		}
	}
	return found
}

// keyFingerprint names an API key in bucket keys and logs without exposing it.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
