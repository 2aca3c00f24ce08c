package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates bearer tokens against a JWKS endpoint. The key set is
// cached and refreshed in the background so verification stays off the
// network on the hot path.
type Verifier struct {
	jwksURL string
	cache   *jwk.Cache
}

func NewVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(5*time.Minute)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}

	// Warm the cache so a bad URL fails at startup, not on the first request.
	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(warmCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("initial jwks fetch: %w", err)
	}

	return &Verifier{jwksURL: jwksURL, cache: cache}, nil
}

// Middleware rejects requests without a valid bearer token. The token's
// subject is stored on the gin context under "subject".
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keySet, err := v.cache.Get(c.Request.Context(), v.jwksURL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "key set unavailable"})
			return
		}

		token, err := jwt.ParseRequest(c.Request,
			jwt.WithKeySet(keySet),
			jwt.WithValidate(true),
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("subject", token.Subject())
		c.Next()
	}
}
