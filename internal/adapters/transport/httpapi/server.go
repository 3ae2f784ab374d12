// Package httpapi exposes the pairing and runtime services over JSON
// HTTP and a per-session websocket channel.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxBodyBytes    = 64 << 10
	DefaultWSRate          = 5.0
	DefaultWSBurst         = 10
	DefaultShutdownTimeout = 10 * time.Second

	defaultEventLimit = 100
)

type Options struct {
	MaxBodyBytes int64
	// WSRate and WSBurst bound inbound websocket messages per connection.
	WSRate          float64
	WSBurst         int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type Server struct {
	pairing  *application.PairingService
	runtime  *application.RuntimeService
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(pairing *application.PairingService, runtime *application.RuntimeService, logger *zap.Logger, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.WSRate <= 0 {
		opts.WSRate = DefaultWSRate
	}
	if opts.WSBurst <= 0 {
		opts.WSBurst = DefaultWSBurst
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		pairing:  pairing,
		runtime:  runtime,
		logger:   logger,
		opts:     opts,
		upgrader: newUpgrader(opts.AllowedOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/pair", s.handlePair)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/sessions/{id}/sandbox", s.handleSandbox)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWebsocket)
	mux.HandleFunc("GET /v1/archives/{id}", s.handleArchive)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/transfers/{token}/resume", s.handleRedeem)

	return s.logRequests(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", listener.Addr().String()))
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http api: %w", err)
	}
	s.logger.Info("http api stopped")

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	cmd, err := req.command()
	if err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.pairing.CreateSession(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createSessionResponse{
		Session: toSessionDTO(created.Session),
		Token:   created.Token,
		QRCode:  created.QRCode,
		QR: qrDTO{
			Version:     created.QR.Version,
			Type:        created.QR.Type,
			SessionID:   string(created.QR.SessionID),
			TokenPrefix: created.QR.TokenPrefix,
			ExpiresAt:   created.QR.ExpiresAt,
			CallbackURL: created.QR.CallbackURL,
		},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	views, err := s.runtime.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]sessionViewDTO, 0, len(views))
	for _, view := range views {
		out = append(out, toSessionViewDTO(view))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.runtime.Session(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toSessionViewDTO(view))
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.pairing.ValidatePairing(r.Context(), application.ValidatePairingCommand{
		SessionID: sessionID(r),
		Device:    req.Device.info(),
		Token:     req.Token,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Valid {
		status = statusForReason(result.Reason)
	}
	s.writeJSON(w, status, toPairResponse(result))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.runtime.Handle(r.Context(), sessionID(r), req.message())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toResultDTO(result))
}

func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	var requested []domain.Capability
	for _, raw := range r.URL.Query()["require"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				requested = append(requested, domain.Capability(name))
			}
		}
	}

	config, err := s.runtime.Sandbox(r.Context(), sessionID(r), requested...)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toSandboxDTO(config))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	archive, err := s.runtime.Archive(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": string(archive.SessionID),
		"vault_id":   archive.VaultID,
		"reason":     string(archive.Reason),
		"ended_at":   archive.EndedAt,
		"stats":      toStatsDTO(archive.Stats),
		"memory":     len(archive.Memory),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Reason: string(domain.ReasonInvalidRequest)})
			return
		}
		limit = parsed
	}

	events, err := s.runtime.RecentEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, eventDTO{
			Timestamp: event.Timestamp,
			Type:      string(event.Type),
			SessionID: string(event.SessionID),
			Data:      event.Data,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.runtime.RedeemTransfer(r.Context(), application.RedeemTransferCommand{
		Token:  r.PathValue("token"),
		Device: req.Device.info(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, redeemResponse{
		Session:           toSessionDTO(result.Session),
		DeviceFingerprint: string(result.DeviceFingerprint),
		State:             toStateDTO(result.LockState),
		MemoryEntries:     len(result.Memory),
	})
}

func sessionID(r *http.Request) domain.SessionID {
	return domain.SessionID(r.PathValue("id"))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeJSON(w, status, errorResponse{Error: "decode request: " + err.Error(), Reason: string(domain.ReasonInvalidRequest)})
		return false
	}

	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error(), Reason: string(domain.ReasonFor(err))})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// redactPath keeps transfer tokens out of the logs.
func redactPath(path string) string {
	if strings.HasPrefix(path, "/v1/transfers/") {
		return "/v1/transfers/{token}/resume"
	}
	return path
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTransferNotFound),
		errors.Is(err, domain.ErrArchiveNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrTransferExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrTokenMismatch), errors.Is(err, domain.ErrInsufficientCapability):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyPaired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownMessageType),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidSession):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForReason(reason domain.FailureReason) int {
	switch reason {
	case domain.ReasonSessionNotFound:
		return http.StatusNotFound
	case domain.ReasonSessionExpired:
		return http.StatusGone
	case domain.ReasonTokenMismatch:
		return http.StatusForbidden
	case domain.ReasonAlreadyPaired:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", redactPath(r.URL.Path)),
			zap.Int("status", recorder.status),
			zap.Duration("duration", time.Since(start)))
	})
}
