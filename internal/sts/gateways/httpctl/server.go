package httpctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/httpsfirst/stsguard/internal/sts/common/hostutil"
	"github.com/httpsfirst/stsguard/internal/sts/common/log"
	"github.com/httpsfirst/stsguard/internal/sts/domain"
)

const shutdownTimeout = 5 * time.Second

// Engine is the slice of the enforcement engine the control surface
// drives. The popup/shell layer owns rendering; this gateway only
// translates requests into engine operations.
type Engine interface {
	StatusOf(host string) (domain.Status, error)
	EnforcingAncestorOf(host string) (string, bool, error)
	SetSTS(host string, enforce, includeSubdomains bool) error
	ToggleSTS(host string) error
	EnsureSTS() error
}

// Backend is the slice of the security backend the shell feeds directly:
// observed site headers, and ephemeral-context lifecycle events.
type Backend interface {
	ProcessHeader(locator, header string, ephemeral bool) error
	ClearEphemeral()
}

// Server is the loopback JSON control surface for the enforcement
// engine. It is the interface boundary toward the excluded UI layer, not
// a public service.
type Server struct {
	addr    string
	engine  Engine
	backend Backend
	logger  log.Logger

	mu      sync.Mutex
	running bool
	srv     *http.Server
}

// New creates a control server bound to addr.
func New(addr string, engine Engine, backend Backend, logger log.Logger) *Server {
	return &Server{
		addr:    addr,
		engine:  engine,
		backend: backend,
		logger:  logger,
	}
}

// Start begins serving the control API. It returns once the listener is
// running; serving continues until Stop or context cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("control server already running")
	}

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.running = true

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{
				"address": s.addr,
				"error":   err.Error(),
			}, "Control server failed")
		}
	}()

	s.logger.Info(map[string]any{
		"address": s.addr,
	}, "Control server started")
	return nil
}

// Stop gracefully shuts down the control server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)

	s.logger.Info(map[string]any{
		"address": s.addr,
	}, "Control server stopped")
	return err
}

// Address returns the address the server binds to.
func (s *Server) Address() string {
	return s.addr
}

// Handler returns the routed handler, exposed separately so tests can
// drive it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/policy", s.handlePolicy)
	mux.HandleFunc("POST /v1/toggle", s.handleToggle)
	mux.HandleFunc("POST /v1/replay", s.handleReplay)
	mux.HandleFunc("POST /v1/header", s.handleHeader)
	mux.HandleFunc("POST /v1/ephemeral/clear", s.handleEphemeralClear)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type statusResponse struct {
	Host              string `json:"host"`
	Status            string `json:"status"`
	EnforcingAncestor string `json:"enforcingAncestor,omitempty"`
}

type policyRequest struct {
	Host              string `json:"host"`
	Enforce           bool   `json:"enforce"`
	IncludeSubdomains bool   `json:"includeSubdomains"`
}

type hostRequest struct {
	Host string `json:"host"`
}

type headerRequest struct {
	Host      string `json:"host"`
	Header    string `json:"header"`
	Ephemeral bool   `json:"ephemeral"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		writeError(w, http.StatusBadRequest, "missing host parameter")
		return
	}

	status, err := s.engine.StatusOf(host)
	if err != nil {
		s.writeEngineError(w, host, err)
		return
	}

	resp := statusResponse{Host: hostutil.Canonical(host)}
	// exhaustive: a new status value must be handled here before it can
	// ship
	switch status {
	case domain.NotEnforced, domain.SiteEnforced, domain.UserEnforced, domain.UserEnforcedWithSubdomains:
		resp.Status = status.String()
	case domain.UserEnforcedParent:
		resp.Status = status.String()
		if ancestor, found, err := s.engine.EnforcingAncestorOf(host); err != nil {
			s.writeEngineError(w, host, err)
			return
		} else if found {
			resp.EnforcingAncestor = ancestor
		}
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("unhandled status %d", status))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetSTS(req.Host, req.Enforce, req.IncludeSubdomains); err != nil {
		s.writeEngineError(w, req.Host, err)
		return
	}
	s.writeStatusOf(w, req.Host)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req hostRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ToggleSTS(req.Host); err != nil {
		s.writeEngineError(w, req.Host, err)
		return
	}
	s.writeStatusOf(w, req.Host)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnsureSTS(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeader(w http.ResponseWriter, r *http.Request) {
	var req headerRequest
	if !s.decode(w, r, &req) {
		return
	}
	locator, err := hostutil.Locator(req.Host)
	if err != nil {
		s.writeEngineError(w, req.Host, err)
		return
	}
	if err := s.backend.ProcessHeader(locator, req.Header, req.Ephemeral); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEphemeralClear(w http.ResponseWriter, r *http.Request) {
	s.backend.ClearEphemeral()
	// re-seed user declarations so a fresh private context matches the
	// persisted policy
	if err := s.engine.EnsureSTS(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStatusOf answers a mutation with the resulting status, saving the
// shell a follow-up query.
func (s *Server) writeStatusOf(w http.ResponseWriter, host string) {
	status, err := s.engine.StatusOf(host)
	if err != nil {
		s.writeEngineError(w, host, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Host:   hostutil.Canonical(host),
		Status: status.String(),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, host string, err error) {
	if errors.Is(err, hostutil.ErrUnparseableHost) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error(map[string]any{
		"host":  host,
		"error": err.Error(),
	}, "Engine operation failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
