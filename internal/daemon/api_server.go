package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"latch/internal/billing"
	"latch/internal/config"
	"latch/internal/events"
	"latch/internal/logging"
)

// maxWebhookBody bounds provider deliveries; real billing payloads are a
// few kilobytes.
const maxWebhookBody = 1 << 20

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	secret    string
	tolerance time.Duration

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Server.Bind)
	if bind == "" {
		return nil, errors.New("server bind address is required")
	}

	srv := &apiServer{
		bind:      bind,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
		secret:    cfg.Server.WebhookSecret,
		tolerance: time.Duration(cfg.Server.WebhookToleranceSeconds) * time.Second,
	}

	token := cfg.Server.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/billing", srv.handleWebhook)
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/events", authMiddleware(token, srv.handleEvents))
	mux.HandleFunc("/api/events/", authMiddleware(token, srv.handleEventAction))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// webhookResponse acknowledges a delivery. Processing happens later on the
// worker pool; the provider only needs to know the event is persisted.
type webhookResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	header := r.Header.Get(billing.SignatureHeader)
	if err := billing.VerifySignature(s.secret, header, body, s.daemon.clock.Now(), s.tolerance); err != nil {
		s.logger.Warn("webhook signature rejected", logging.Error(err))
		s.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	delivery, err := billing.ParseWebhook(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	ev, inserted, err := s.daemon.queue.Enqueue(r.Context(), delivery.IdempotencyKey(), delivery.Type, delivery.Data, 0)
	if err != nil {
		s.logger.Error("webhook enqueue failed",
			logging.String(logging.FieldEventID, delivery.IdempotencyKey()),
			logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	if inserted {
		s.logger.Info("webhook accepted",
			logging.String(logging.FieldEventID, ev.ID),
			logging.String(logging.FieldEventType, ev.Type))
	} else {
		s.logger.Info("webhook redelivery collapsed",
			logging.String(logging.FieldEventID, ev.ID))
	}
	s.writeJSON(w, http.StatusAccepted, webhookResponse{
		Status:    "accepted",
		EventID:   ev.ID,
		Duplicate: !inserted,
	})
}

type statusResponse struct {
	Running      bool       `json:"running"`
	PID          int        `json:"pid"`
	DatabasePath string     `json:"database_path"`
	LockFilePath string     `json:"lock_file_path"`
	Accounts     int64      `json:"accounts"`
	Queue        queueStats `json:"queue"`
}

type queueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Done       int64 `json:"done"`
	Failed     int64 `json:"failed"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Accounts:     status.Accounts,
		Queue: queueStats{
			Pending:    status.Queue.Pending,
			Processing: status.Queue.Processing,
			Done:       status.Queue.Done,
			Failed:     status.Queue.Failed,
		},
	})
}

type eventPayload struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	NextRetryAt  string `json:"next_retry_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type eventListResponse struct {
	Events []eventPayload `json:"events"`
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	status := events.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := s.daemon.queue.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := eventListResponse{Events: make([]eventPayload, 0, len(list))}
	for _, ev := range list {
		payload.Events = append(payload.Events, toEventPayload(ev))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleEventAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/events/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "retry" || id == "" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	ev, err := s.daemon.queue.RetryFailed(r.Context(), id)
	if err != nil {
		if errors.Is(err, events.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "event not found")
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("event reset for retry", logging.String(logging.FieldEventID, ev.ID))
	s.writeJSON(w, http.StatusOK, toEventPayload(ev))
}

func toEventPayload(ev *events.Event) eventPayload {
	payload := eventPayload{
		ID:           ev.ID,
		Type:         ev.Type,
		Status:       string(ev.Status),
		Attempts:     ev.Attempts,
		MaxAttempts:  ev.MaxAttempts,
		ErrorMessage: ev.ErrorMessage,
		CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    ev.UpdatedAt.Format(time.RFC3339),
	}
	if ev.NextRetryAt != nil {
		payload.NextRetryAt = ev.NextRetryAt.Format(time.RFC3339)
	}
	return payload
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
