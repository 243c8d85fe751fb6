//go:build !release
// +build !release

package web

import (
	"github.com/gin-gonic/gin"
)

// newEngine sets up Gin in debug mode for development builds
func newEngine(_ []string) *gin.Engine {
	// Gin will be in debug mode by default
	router := gin.New()
	router.Use(gin.Logger())

	return router
}
