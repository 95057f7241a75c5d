package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar mounts its routes on a parent group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// API mounts route areas under /api/<version>.
type API struct {
	engine  *gin.Engine
	version string
	logger  *zap.Logger
	areas   []RouteRegistrar
}

type APIOption func(*API)

func WithAPIVersion(version string) APIOption {
	return func(a *API) { a.version = version }
}

// WithRouteLogger logs each mounted area at debug level.
func WithRouteLogger(logger *zap.Logger) APIOption {
	return func(a *API) { a.logger = logger }
}

func NewAPI(engine *gin.Engine, opts ...APIOption) *API {
	a := &API{engine: engine, version: "v1", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Register(area RouteRegistrar) *API {
	a.areas = append(a.areas, area)
	return a
}

// Mount registers every area. Call it once, after all Register calls.
func (a *API) Mount() {
	base := a.engine.Group("/api/" + a.version)
	for _, area := range a.areas {
		area.RegisterRoutes(base)
		if g, ok := area.(*RouteGroup); ok {
			a.logger.Debug("Mounted route area",
				zap.String("area", g.name),
				zap.String("prefix", base.BasePath()+g.prefix),
				zap.Int("routes", g.count()),
			)
		}
	}
}

// RouteGroup is one API area (statistics, dashboard, admin) with optional
// middleware that also covers its nested groups.
type RouteGroup struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
	children   []*RouteGroup
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func NewRouteGroup(name, prefix string) *RouteGroup {
	return &RouteGroup{name: name, prefix: prefix}
}

func (g *RouteGroup) Use(mw ...gin.HandlerFunc) *RouteGroup {
	g.middleware = append(g.middleware, mw...)
	return g
}

func (g *RouteGroup) GET(path string, h ...gin.HandlerFunc) *RouteGroup {
	return g.add(http.MethodGet, path, h)
}

func (g *RouteGroup) POST(path string, h ...gin.HandlerFunc) *RouteGroup {
	return g.add(http.MethodPost, path, h)
}

func (g *RouteGroup) PUT(path string, h ...gin.HandlerFunc) *RouteGroup {
	return g.add(http.MethodPut, path, h)
}

func (g *RouteGroup) add(method, path string, h []gin.HandlerFunc) *RouteGroup {
	g.routes = append(g.routes, route{method: method, path: path, handlers: h})
	return g
}

// Group nests a child area under g's prefix and middleware.
func (g *RouteGroup) Group(name, prefix string) *RouteGroup {
	child := NewRouteGroup(name, prefix)
	g.children = append(g.children, child)
	return child
}

func (g *RouteGroup) RegisterRoutes(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.middleware...)
	for _, r := range g.routes {
		rg.Handle(r.method, r.path, r.handlers...)
	}
	for _, child := range g.children {
		child.RegisterRoutes(rg)
	}
}

func (g *RouteGroup) count() int {
	n := len(g.routes)
	for _, child := range g.children {
		n += child.count()
	}
	return n
}
