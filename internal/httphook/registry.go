// Package httphook holds custom HTTP routes registered at runtime. Routes are
// matched by method and exact path and take effect without rebuilding the
// router.
package httphook

import (
	"net/http"
	"strings"
	"sync"
)

type route struct {
	handler http.Handler
}

// Registry maps (method, path) to a handler. It is safe for concurrent use:
// HTTP goroutines read it while the embedder adds and removes routes.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]map[string]*route
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]map[string]*route)}
}

// Handle installs h for method and path, replacing any handler already there.
// Methods are case-insensitive. The returned function removes the route if it
// still holds h; calling it more than once is harmless.
//
// Precondition: path must start with "/"; h must be non-nil.
func (r *Registry) Handle(method, path string, h http.Handler) func() {
	method = strings.ToUpper(method)
	ref := &route{handler: h}

	r.mu.Lock()
	byPath, ok := r.routes[method]
	if !ok {
		byPath = make(map[string]*route)
		r.routes[method] = byPath
	}
	byPath[path] = ref
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if byPath, ok := r.routes[method]; ok && byPath[path] == ref {
			delete(byPath, path)
			if len(byPath) == 0 {
				delete(r.routes, method)
			}
		}
	}
}

// Lookup returns the handler for method and path.
func (r *Registry) Lookup(method, path string) (http.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.routes[strings.ToUpper(method)][path]
	if !ok {
		return nil, false
	}
	return ref.handler, true
}

// Len returns the number of installed routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byPath := range r.routes {
		n += len(byPath)
	}
	return n
}

// Fallback serves a matching route, or next when none matches. A nil next
// answers 404.
func (r *Registry) Fallback(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if h, ok := r.Lookup(req.Method, req.URL.Path); ok {
			h.ServeHTTP(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}
