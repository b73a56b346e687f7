// Package api exposes the service over HTTP, behind basic authentication and role based authorization.
//
//	POST /v1/scope:resolve                       {"scope": "..."}
//	POST /v1/plan                                batch request, nothing is sent to devices
//	POST /v1/batch                               batch request
//	GET  /v1/runs?limit=N                        latest stored runs
//	GET  /v1/runs/{run}/{category}               summary and every stored result of a run
//	GET  /v1/runs/{run}/{category}/{device}      stored results of one device
//	GET  /v1/inventory
//	GET  /v1/intents
//	GET  /v1/pool
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jackadi-io/netbatch/internal/config"
	"github.com/jackadi-io/netbatch/internal/executor"
	"github.com/jackadi-io/netbatch/internal/intent"
	"github.com/jackadi-io/netbatch/internal/pool"
	"github.com/jackadi-io/netbatch/internal/scope"
	"github.com/jackadi-io/netbatch/internal/serializer"
	"github.com/jackadi-io/netbatch/internal/service"
	"github.com/jackadi-io/netbatch/internal/sink"
	"github.com/spf13/cast"
)

const maxBodySize = 1 << 20

// Store reads persisted results, see sink.Store.
type Store interface {
	Run(run, category string) (sink.RunInfo, error)
	Runs(limit int) ([]sink.RunInfo, error)
	List(run, category string) ([]executor.CommandResult, error)
	Read(run, category, device string) ([]executor.CommandResult, error)
}

// PoolStats reports pooled connections, see pool.Pool.
type PoolStats interface {
	Stats() []pool.ConnectionInfo
}

type Options struct {
	Store        Store
	Pool         PoolStats
	Htpasswd     *Htpasswd
	Authorizer   *Authorizer
	BatchTimeout time.Duration
}

type Server struct {
	service      *service.Service
	store        Store
	pool         PoolStats
	htpasswd     *Htpasswd
	authorizer   *Authorizer
	batchTimeout time.Duration
}

func NewServer(svc *service.Service, opts Options) *Server {
	s := &Server{
		service:      svc,
		store:        opts.Store,
		pool:         opts.Pool,
		htpasswd:     opts.Htpasswd,
		authorizer:   opts.Authorizer,
		batchTimeout: opts.BatchTimeout,
	}
	if s.htpasswd == nil {
		h := NewHtpasswd()
		s.htpasswd = &h
	}
	if s.authorizer == nil {
		s.authorizer = NewAuthorizer("")
	}
	return s
}

// Handler returns the authenticated API handler.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method   string
		path     string
		resource string
		action   string
		handler  runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/scope:resolve", "scope", "resolve", s.resolveScope},
		{http.MethodPost, "/v1/plan", "batch", "plan", s.plan},
		{http.MethodPost, "/v1/batch", "batch", "run", s.runBatch},
		{http.MethodGet, "/v1/runs", "runs", "read", s.listRuns},
		{http.MethodGet, "/v1/runs/{run}/{category}", "runs", "read", s.getRun},
		{http.MethodGet, "/v1/runs/{run}/{category}/{device}", "runs", "read", s.getDeviceResults},
		{http.MethodGet, "/v1/inventory", "inventory", "read", s.inventory},
		{http.MethodGet, "/v1/intents", "intents", "read", s.intents},
		{http.MethodGet, "/v1/pool", "pool", "read", s.poolStats},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, s.route(r.resource, r.action, r.handler)); err != nil {
			return nil, fmt.Errorf("failed to register %s %s: %w", r.method, r.path, err)
		}
	}

	return s.htpasswd.basicAuthMiddleware(mux), nil
}

func (s *Server) route(resource, action string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h(w, r, params)
		})
		s.authorizer.handler(resource, action, next).ServeHTTP(w, r)
	}
}

type scopeRequest struct {
	Scope string `json:"scope"`
}

type scopeResponse struct {
	Scope      string     `json:"scope"`
	Rule       scope.Rule `json:"rule"`
	Devices    []string   `json:"devices"`
	Unresolved []string   `json:"unresolved,omitempty"`
}

func (s *Server) resolveScope(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req scopeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.ResolveScope(req.Scope)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scopeResponse{
		Scope:      req.Scope,
		Rule:       res.Rule,
		Devices:    res.Names(),
		Unresolved: res.Unresolved,
	})
}

// batchRequest is the wire form of service.Request, intents are typed as on the command line.
type batchRequest struct {
	Scope    string   `json:"scope"`
	Commands []string `json:"commands,omitempty"`
	Intents  []string `json:"intents,omitempty"`
	Category string   `json:"category,omitempty"`
	Options  struct {
		MaxConcurrency     int   `json:"max_concurrency,omitempty"`
		Timeout            any   `json:"timeout,omitempty"`
		StopOnFirstFailure *bool `json:"stop_on_failure,omitempty"`
		AcquireRetries     *int  `json:"acquire_retries,omitempty"`
	} `json:"options"`
}

func (b batchRequest) toRequest() (service.Request, error) {
	req := service.Request{
		Scope:    b.Scope,
		Commands: b.Commands,
		Category: b.Category,
		Options: service.Options{
			MaxConcurrency:     b.Options.MaxConcurrency,
			StopOnFirstFailure: b.Options.StopOnFirstFailure,
			AcquireRetries:     b.Options.AcquireRetries,
		},
	}

	if b.Options.Timeout != nil {
		timeout, err := cast.ToDurationE(b.Options.Timeout)
		if err != nil {
			return req, fmt.Errorf("invalid timeout: %w", err)
		}
		if timeout < 0 {
			return req, errors.New("invalid timeout: must not be negative")
		}
		req.Options.CommandTimeout = timeout
	}

	for _, line := range b.Intents {
		call, err := intent.ParseCall(line)
		if err != nil {
			return req, fmt.Errorf("invalid intent %q: %w", line, err)
		}
		req.Intents = append(req.Intents, call)
	}
	return req, nil
}

func (s *Server) readBatchRequest(r *http.Request) (service.Request, error) {
	var body batchRequest
	if err := decode(r, &body); err != nil {
		return service.Request{}, err
	}
	return body.toRequest()
}

func (s *Server) plan(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := s.readBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.service.Plan(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := s.readBatchRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	username, _, _ := r.BasicAuth()
	if err := s.authorizer.canRun(username, req.Commands, req.Intents); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	ctx := r.Context()
	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	slog.Info("batch requested", "user", username, "scope", req.Scope, "category", req.Category)
	resp, err := s.service.Run(ctx, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store disabled")
		return
	}

	limit := config.ResultsListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = min(n, config.MaxResultsListLimit)
	}

	runs, err := s.store.Runs(limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type runResponse struct {
	Run     sink.RunInfo             `json:"run"`
	Results []executor.CommandResult `json:"results"`
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store disabled")
		return
	}

	info, err := s.store.Run(params["run"], params["category"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	results, err := s.store.List(params["run"], params["category"])
	if err != nil && !errors.Is(err, sink.ErrNotFound) {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: info, Results: results})
}

func (s *Server) getDeviceResults(w http.ResponseWriter, _ *http.Request, params map[string]string) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "result store disabled")
		return
	}

	results, err := s.store.Read(params["run"], params["category"], params["device"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) inventory(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, s.service.Inventory().All())
}

func (s *Server) intents(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	catalog := s.service.Catalog()
	if catalog == nil {
		writeJSON(w, http.StatusOK, []intent.Info{})
		return
	}
	writeJSON(w, http.StatusOK, catalog.Intents())
}

func (s *Server) poolStats(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, []pool.ConnectionInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("unable to read body: %w", err)
	}
	if err := serializer.JSON.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := serializer.JSON.Marshal(v)
	if err != nil {
		slog.Error("unable to encode response", "error", err)
		writeError(w, http.StatusInternalServerError, "unable to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	data, _ := serializer.JSON.Marshal(errorBody{Error: http.StatusText(status), Message: message, Status: status})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	var parseErr *scope.ParseError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, executor.ErrNoDevices),
		errors.Is(err, executor.ErrNoCommands),
		errors.Is(err, intent.ErrUnknownIntent),
		errors.Is(err, sink.ErrInvalidRunID):
		return http.StatusBadRequest
	case errors.Is(err, sink.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, service.ErrNoIntentCatalog):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs the API until ctx is cancelled.
//
// Credentials are read from <config-dir>/htpasswd and permissions from <config-dir>/authorization.yaml.
func Serve(ctx context.Context, cfg *config.Config, svc *service.Service, opts Options) error {
	slog.Info("loading htpasswd")
	htpasswd := NewHtpasswd()
	if err := htpasswd.Load(filepath.Join(cfg.ConfigDir, config.HTPasswordFile)); err != nil {
		slog.Warn("htpasswd not loaded, every request will be rejected", "error", err)
	}
	authorizer := NewAuthorizer(cfg.ConfigDir)
	if err := authorizer.Load(); err != nil {
		return fmt.Errorf("failed to load permissions, please check %s: %w", AuthorizationFile, err)
	}
	opts.Htpasswd = &htpasswd
	opts.Authorizer = authorizer

	handler, err := NewServer(svc, opts).Handler()
	if err != nil {
		return err
	}

	apiAddr := net.JoinHostPort(cfg.API.Address, cfg.API.Port)
	httpServer := http.Server{
		Addr:              apiAddr,
		Handler:           handler,
		ReadHeaderTimeout: config.HTTPReadHeaderTimeout,
	}

	if cfg.API.TLS.Enabled {
		certs, err := config.GetAPITLSCertificate(cfg.API.TLS.Cert, cfg.API.TLS.Key)
		if err != nil {
			return fmt.Errorf("failed to load API TLS configuration: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{Certificates: certs, MinVersion: tls.VersionTLS12}
	}
	slog.Info("starting Web API", "address", apiAddr, "tls", cfg.API.TLS.Enabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GracefulShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("web api failed to stop properly", "error", err)
		}
	}()

	if cfg.API.TLS.Enabled {
		err = httpServer.ListenAndServeTLS("", "") // certificates already in TLSConfig
	} else {
		err = httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
