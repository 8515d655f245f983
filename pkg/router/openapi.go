package router

import (
	"os"
	"path/filepath"

	"private-chat/backend/pkg/validator"
)

// AddOpenAPIValidation validates requests against the schema at schemaPath
// and serves the schema under /api/docs. A missing schema disables both.
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	if !fileExists(schemaPath) {
		r.Logger.Warn("OpenAPI schema file not found, skipping validation", "path", schemaPath)
		return
	}

	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.Error("Failed to initialize OpenAPI validator", "error", err)
		return
	}

	r.Engine.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)

	schemaFile := filepath.Base(schemaPath)
	r.Engine.StaticFile("/api/docs/"+schemaFile, schemaPath)
	r.Logger.Info("OpenAPI schema available at", "url", "/api/docs/"+schemaFile)
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
