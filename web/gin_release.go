//go:build release
// +build release

package web

import (
	"github.com/gin-gonic/gin"
)

// newEngine sets up Gin in release mode for production builds
func newEngine(trustedProxies []string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	// Use gin.New() instead of gin.Default() to avoid debug middleware in release mode
	router := gin.New()

	if len(trustedProxies) > 0 {
		router.SetTrustedProxies(trustedProxies)
	} else {
		// the agent is meant for loopback access, so no proxy is trusted by default
		router.SetTrustedProxies(nil)
	}

	return router
}
