package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// corsMiddleware adds permissive CORS headers to every response.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authState holds the accepted client keys. Keys can be swapped at
// runtime by config hot reload, so access goes through a lock.
type authState struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

func newAuthState(keys []string) *authState {
	a := &authState{}
	a.Update(keys)
	return a
}

// Update replaces the key set.
func (a *authState) Update(keys []string) {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	a.mu.Lock()
	a.keys = set
	a.mu.Unlock()
}

// allowed reports whether the key grants access. An empty key set
// disables authentication, for local use.
func (a *authState) allowed(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.keys) == 0 {
		return true
	}
	_, ok := a.keys[key]
	return ok
}

// authMiddleware accepts the key from the x-goog-api-key header or the
// key query parameter, matching the Gemini client conventions.
func authMiddleware(auth *authState) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("x-goog-api-key")
		if key == "" {
			key = c.Query("key")
		}
		if !auth.allowed(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid or missing API key", "unauthorized"))
			return
		}
		c.Next()
	}
}
