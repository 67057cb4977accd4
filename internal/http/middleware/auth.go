// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements optional seller authentication with HMAC-signed JWTs.
// When a secret is configured, requests must carry "Authorization: Bearer
// <token>" whose seller_id claim becomes the authenticated seller. Without a
// secret the middleware is a no-op and sellers are resolved from request
// parameters instead.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextSellerKey is the Gin context key holding the authenticated seller.
	ContextSellerKey = "sellerID"

	// SellerClaim is the JWT claim carrying the seller identifier.
	SellerClaim = "seller_id"
)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HMAC key. Empty disables authentication.
	Secret string
	// SkipPaths are path prefixes served without a token (health, metrics, docs).
	SkipPaths []string
}

// SellerFrom returns the authenticated seller, if any.
func SellerFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextSellerKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Auth validates bearer tokens and stores the seller claim in the context.
// Missing, malformed, or expired tokens yield 401.
func Auth(opts AuthOptions) gin.HandlerFunc {
	secret := []byte(opts.Secret)
	return func(c *gin.Context) {
		if len(secret) == 0 || skipPath(c.Request.URL.Path, opts.SkipPaths) {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "authorization header required")
			return
		}
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			unauthorized(c, "bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			unauthorized(c, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "invalid token")
			return
		}
		seller, _ := claims[SellerClaim].(string)
		if strings.TrimSpace(seller) == "" {
			unauthorized(c, "token has no seller")
			return
		}
		c.Set(ContextSellerKey, seller)
		withSeller(c, seller)
		c.Next()
	}
}

func skipPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func unauthorized(c *gin.Context, msg string) {
	abortJSON(c, http.StatusUnauthorized, "unauthorized", msg)
}

// abortJSON writes the shared error envelope used by middleware.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": c.Writer.Header().Get(requestIDHeader),
	})
}
