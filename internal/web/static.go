package web

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	appLog "khojum/internal/log"
)

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

// staticHandler serves the site. Extension-less paths resolve to a
// matching .html page ("/promote" -> promote.html) or fall back to
// index.html; anything else missing gets the 404 page. /api/* is never
// answered with HTML.
func (s *Server) staticHandler() http.Handler {
	fileServer := http.FileServerFS(s.static)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAPIPath(r.URL.Path) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "."
		}
		if s.servable(name) {
			fileServer.ServeHTTP(w, r)
			return
		}

		if path.Ext(name) == "" {
			if page := name + ".html"; s.servable(page) {
				http.ServeFileFS(w, r, s.static, page)
				return
			}
			appLog.Debug("serving index.html for client route", "path", r.URL.Path)
			http.ServeFileFS(w, r, s.static, "index.html")
			return
		}
		s.notFound(w, r)
	})
}

// servable reports whether name is a file, or a directory with an
// index.html; bare directories are never listed.
func (s *Server) servable(name string) bool {
	info, err := fs.Stat(s.static, name)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}
	_, err = fs.Stat(s.static, path.Join(name, "index.html"))
	return err == nil
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(s.static, "404.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(page)
}
