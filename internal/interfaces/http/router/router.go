package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// RegisterGuarded adds a registrar whose routes sit behind the given
// middleware (admin auth, for instance)
func (r *Router) RegisterGuarded(registrar RouteRegistrar, middleware ...gin.HandlerFunc) *Router {
	r.registrars = append(r.registrars, guardedRegistrar{registrar, middleware})
	return r
}

type guardedRegistrar struct {
	inner      RouteRegistrar
	middleware []gin.HandlerFunc
}

func (g guardedRegistrar) RegisterRoutes(rg *gin.RouterGroup) {
	guarded := rg.Group("", g.middleware...)
	g.inner.RegisterRoutes(guarded)
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}
