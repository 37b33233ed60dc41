// Package server exposes crate lookups and completion over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/git-pkgs/crateindex/client"
	"github.com/git-pkgs/crateindex/internal/core"
	"github.com/git-pkgs/crateindex/internal/shard"
	"github.com/git-pkgs/crateindex/internal/versions"
)

const (
	maxRequestBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Resolver answers the lookups served by the HTTP surface.
type Resolver interface {
	Package(ctx context.Context, name string) (*core.ResolvedPackage, error)
	SearchNames(ctx context.Context, prefix string) ([]string, error)
	Resolve(ctx context.Context, name, requirement string) (versions.Match, error)
	Features(ctx context.Context, name, requirement string) ([]string, error)
	Complete(ctx context.Context, document string, site core.DeclarationSite) core.SuggestionList
	Touch(document string)
	Invalidate(name string)
	URLs() client.URLBuilder
}

// Server routes HTTP requests to a Resolver.
type Server struct {
	resolver Resolver
	logger   *log.Logger
	timeout  time.Duration
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds the time spent on a single request.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a server backed by res.
func New(res Resolver, opts ...Option) *Server {
	s := &Server{
		resolver: res,
		logger:   log.Default().WithPrefix("http"),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(middleware.RequestSize(maxRequestBody))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/crates", s.handleSearch)
		r.Get("/crates/{name}/versions", s.handleVersions)
		r.Get("/crates/{name}/resolve", s.handleResolve)
		r.Get("/crates/{name}/features", s.handleFeatures)
		r.Post("/complete", s.handleComplete)
		r.Post("/documents/touch", s.handleTouch)
		r.Post("/refresh/{name}", s.handleRefresh)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"took", time.Since(start),
			"id", middleware.GetReqID(r.Context()),
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type searchResponse struct {
	Prefix string   `json:"prefix"`
	Names  []string `json:"names"`
	Error  string   `json:"error,omitempty"`
}

type versionView struct {
	Number      string   `json:"num"`
	Yanked      bool     `json:"yanked"`
	Features    []string `json:"features"`
	RustVersion string   `json:"rust_version,omitempty"`
	Checksum    string   `json:"cksum,omitempty"`
}

type versionsResponse struct {
	Name     string        `json:"name"`
	Versions []versionView `json:"versions"`
}

type resolveResponse struct {
	Name        string            `json:"name"`
	Requirement string            `json:"requirement"`
	Version     string            `json:"version"`
	Found       bool              `json:"found"`
	Record      *versionView      `json:"record,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
}

type featuresResponse struct {
	Name        string   `json:"name"`
	Requirement string   `json:"requirement"`
	Features    []string `json:"features"`
}

type completeRequest struct {
	Document string               `json:"document"`
	Site     core.DeclarationSite `json:"site"`
}

type touchRequest struct {
	Document string `json:"document"`
}

func viewOf(rec core.VersionRecord) versionView {
	features := rec.Features
	if features == nil {
		features = []string{}
	}
	return versionView{
		Number:      rec.Number,
		Yanked:      rec.Yanked,
		Features:    features,
		RustVersion: rec.RustVersion,
		Checksum:    rec.Checksum,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	prefix := core.NormalizeName(r.URL.Query().Get("prefix"))
	entries, err := s.resolver.SearchNames(r.Context(), prefix)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if shard.Matches(e, prefix) {
			names = append(names, shard.BaseName(e))
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	resp := searchResponse{Prefix: prefix, Names: names}
	if err != nil {
		s.logger.Warn("crate search failed", "prefix", prefix, "err", err)
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	name := core.NormalizeName(chi.URLParam(r, "name"))
	pkg, err := s.resolver.Package(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := versionsResponse{Name: pkg.Name, Versions: make([]versionView, len(pkg.Versions))}
	for i, v := range pkg.Versions {
		resp.Versions[i] = viewOf(v)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := core.NormalizeName(chi.URLParam(r, "name"))
	req := r.URL.Query().Get("req")

	match, err := s.resolver.Resolve(r.Context(), name, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := resolveResponse{
		Name:        name,
		Requirement: req,
		Version:     match.Version,
		Found:       match.Found,
	}
	if match.Record != nil {
		view := viewOf(*match.Record)
		resp.Record = &view
		resp.URLs = client.BuildURLs(s.resolver.URLs(), name, match.Version)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	name := core.NormalizeName(chi.URLParam(r, "name"))
	req := r.URL.Query().Get("req")

	features, err := s.resolver.Features(r.Context(), name, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if features == nil {
		features = []string{}
	}
	s.writeJSON(w, http.StatusOK, featuresResponse{Name: name, Requirement: req, Features: features})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	list := s.resolver.Complete(r.Context(), req.Document, req.Site)
	if list.Items == nil {
		list.Items = []core.Suggestion{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	var req touchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Document == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "document is required"})
		return
	}
	s.resolver.Touch(req.Document)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := core.NormalizeName(chi.URLParam(r, "name"))
	s.resolver.Invalidate(name)
	s.logger.Info("cache entry invalidated", "crate", name)
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps an error to a status: 404 for missing crates, 400 for
// bad requirements, 504 for timeouts and 502 for other store failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var ce *core.ConstraintError
	switch {
	case core.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &ce):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		s.logger.Error("lookup failed", "err", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed", "err", err)
	}
}
