package cache

import "github.com/gin-gonic/gin"

const requestCacheKey = "request_cache"

func requestCache(c *gin.Context, create bool) map[string]any {
	if v, ok := c.Get(requestCacheKey); ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	if !create {
		return nil
	}
	m := map[string]any{}
	c.Set(requestCacheKey, m)
	return m
}

// SetRequestCache stores v for the rest of the request.
func SetRequestCache(c *gin.Context, key string, v any) {
	requestCache(c, true)[key] = v
}

// GetRequestCache returns a value stored by SetRequestCache.
func GetRequestCache(c *gin.Context, key string) (any, bool) {
	v, ok := requestCache(c, false)[key]
	return v, ok
}

// RemoveRequestCache deletes key from the request cache.
func RemoveRequestCache(c *gin.Context, key string) {
	if m := requestCache(c, false); m != nil {
		delete(m, key)
	}
}
