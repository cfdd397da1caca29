package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"khojum/internal/catalog"
	"khojum/internal/config"
	"khojum/internal/filter"
	appLog "khojum/internal/log"
	"khojum/internal/store"
)

const (
	responseCacheTTL = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// embeddedStatic is the bundled site served when no static_dir is set.
//
//go:embed all:static
var embeddedStatic embed.FS

// Server provides the site, the read API and the submission endpoint.
type Server struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	listings *store.Listings
	engine   *filter.Engine
	loc      *time.Location

	static   fs.FS
	router   *mux.Router
	cache    *cache.Cache
	limiter  *rate.Limiter
	validate *submissionValidator
	newID    func() string
}

// NewServer wires the routes. The response cache is flushed whenever the
// catalog reloads.
func NewServer(cfg *config.Config, cat *catalog.Catalog, listings *store.Listings, engine *filter.Engine) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	s := &Server{
		cfg:      cfg,
		catalog:  cat,
		listings: listings,
		engine:   engine,
		loc:      loc,
		static:   staticFS(cfg.StaticDir),
		router:   mux.NewRouter(),
		cache:    cache.New(responseCacheTTL, 2*responseCacheTTL),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), cfg.SubmitBurst),
		validate: newSubmissionValidator(),
		newID:    newListingID,
	}
	cat.OnReload(func(catalog.Snapshot) { s.cache.Flush() })
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.router.Use(requestLogger)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/events/featured", s.handleFeatured).Methods(http.MethodGet)
	api.HandleFunc("/events.ics", s.handleICS).Methods(http.MethodGet)
	api.HandleFunc("/calendar", s.handleMonth).Methods(http.MethodGet)
	api.HandleFunc("/calendar/{date:[0-9]{4}-[0-9]{2}-[0-9]{2}}", s.handleDay).Methods(http.MethodGet)
	api.HandleFunc("/quick-submit", s.handleQuickSubmit).Methods(http.MethodPost)
	api.HandleFunc("/listings", s.handleListings).Methods(http.MethodGet)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router.PathPrefix("/").Handler(s.staticHandler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
	})
}

func staticFS(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return embeddedStatic
	}
	return sub
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeCachedJSON serves the cached encoding of key, or builds, caches and
// serves it. build returns the status to use; only 200 responses are cached.
func (s *Server) writeCachedJSON(w http.ResponseWriter, key string, build func() (int, any)) {
	if body, ok := s.cache.Get(key); ok {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Cache", "HIT")
		_, _ = w.Write(body.([]byte))
		return
	}
	status, v := build()
	body, err := json.Marshal(v)
	if err != nil {
		appLog.Error("failed to encode response", err, "key", key)
		writeError(w, http.StatusInternalServerError, "Failed to encode response.")
		return
	}
	body = append(body, '\n')
	if status == http.StatusOK {
		s.cache.Set(key, body, cache.DefaultExpiration)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
