// Package httpsurface implements the HTTP routing contract (§6.4): static
// files under an application's `/srv/www` overlay are served directly
// from the virtual filesystem, while everything else is handed to the
// httpstimulus extension so a guest module can answer dynamically.
package httpsurface

import (
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/vfs"
)

const staticRoot = "/srv/www"

// AppRoute binds one application's HTTP surface under a path prefix.
type AppRoute struct {
	ApplicationID string
	PathPrefix    string
	Tree          *vfs.Tree

	// DynamicHandler, if non-nil, answers requests that don't resolve to
	// a static file under staticRoot — the module-invocation path.
	DynamicHandler http.HandlerFunc
}

// Surface is the top-level HTTP router composing every mounted
// application's routes.
type Surface struct {
	router *mux.Router
	log    *logging.Logger
	chain  func(http.Handler) http.Handler
}

// New returns an empty Surface. chain, if non-nil, wraps every request
// (applications and /metrics alike) with the standard middleware stack.
func New(log *logging.Logger, chain func(http.Handler) http.Handler) *Surface {
	return &Surface{router: mux.NewRouter(), log: log, chain: chain}
}

// Handler returns the http.Handler to pass to an http.Server.
func (s *Surface) Handler() http.Handler {
	if s.chain == nil {
		return s.router
	}
	return s.chain(s.router)
}

// MountMetrics registers handler (typically promhttp.Handler()) at path,
// outside any application's path prefix.
func (s *Surface) MountMetrics(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// Mount registers route's static-file and dynamic-dispatch handling
// under its path prefix.
func (s *Surface) Mount(route AppRoute) {
	prefix := strings.TrimSuffix(route.PathPrefix, "/")
	sub := s.router.PathPrefix(prefix).Subrouter()

	sub.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, prefix)
		if rel == "" {
			rel = "/"
		}

		if served := serveStatic(w, r, route.Tree, rel); served {
			return
		}

		if route.DynamicHandler != nil {
			route.DynamicHandler(w, r)
			return
		}

		http.NotFound(w, r)
	})

	s.log.WithField("application", route.ApplicationID).
		WithField("prefix", route.PathPrefix).
		Info("mounted application HTTP surface")
}

// serveStatic attempts to resolve rel under the application's staticRoot
// overlay, returning true if it wrote a response.
func serveStatic(w http.ResponseWriter, r *http.Request, tree *vfs.Tree, rel string) bool {
	if tree == nil {
		return false
	}

	clean := path.Clean("/" + rel)
	full := path.Join(staticRoot, clean)

	node, err := tree.Lookup(full)
	if err != nil || node.Type != vfs.NodeFile {
		if clean == "/" || clean == "." {
			full = path.Join(staticRoot, "index.html")
			node, err = tree.Lookup(full)
		}
		if err != nil || node == nil || node.Type != vfs.NodeFile {
			return false
		}
	}

	data, err := tree.Read(full, 0, len(node.Content))
	if err != nil {
		return false
	}

	ct := mime.TypeByExtension(filepath.Ext(full))
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return true
}
