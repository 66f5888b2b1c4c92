package services

import (
	"net/http"
	"slices"
	"strings"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
)

// Registrar mounts routes on a router
type Registrar interface {
	Register(r *mux.Router)
}

// NewRouter builds the HTTP surface from the given services. extra handlers
// are mounted at exact paths, for example the websocket endpoint.
func NewRouter(extra map[string]http.Handler, services ...Registrar) *mux.Router {
	r := mux.NewRouter()
	r.Use(ensureLogger)
	for _, s := range services {
		s.Register(r)
	}
	for path, h := range extra {
		r.Handle(path, h)
	}
	return r
}

// ensureLogger gives requests arriving outside prefab's middleware, such as
// tests, a logger on their context
func ensureLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}

// MountPaths lists the patterns under which r must be mounted on a
// net/http ServeMux. Variable routes are reduced to their static prefix.
func MountPaths(r *mux.Router) []string {
	var paths []string
	_ = r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		if i := strings.Index(tpl, "{"); i >= 0 {
			tpl = tpl[:i]
		}
		if !slices.Contains(paths, tpl) {
			paths = append(paths, tpl)
		}
		return nil
	})
	slices.Sort(paths)
	return paths
}
