package tools

import (
	"github.com/codedeck/codedeck/internal/config"
	"github.com/codedeck/codedeck/internal/pool"
	"github.com/codedeck/codedeck/internal/sessionlog"
)

// Context carries the shared dependencies tool handlers need.
type Context struct {
	Pool       *pool.Pool
	Store      *sessionlog.Store
	Config     *config.Config
	ProjectDir string
}

// RegisterAll registers every built-in tool on the registry.
func RegisterAll(r *Registry) {
	RegisterSessionTools(r)
	RegisterFileTools(r)
	RegisterSearchTools(r)
}
