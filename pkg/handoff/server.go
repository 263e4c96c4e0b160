package handoff

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/errors"
	"github.com/core-tools/hsu-guardian-go/pkg/logging"

	"github.com/google/uuid"
)

const maxPayloadBytes = 64 * 1024

// Server receives payloads forwarded by launches that yielded to this instance
type Server struct {
	endpoint  Endpoint
	handler   PayloadHandler
	listener  net.Listener
	server    *http.Server
	startTime time.Time
	logger    logging.Logger
}

func NewServer(endpoint Endpoint, handler PayloadHandler, logger logging.Logger) (*Server, error) {
	if handler == nil {
		return nil, errors.NewValidationError("payload handler is required", nil)
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	listener, err := CreateListener(endpoint.ListenConfig())
	if err != nil {
		return nil, err
	}

	s := &Server{
		endpoint: endpoint,
		handler:  handler,
		listener: listener,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/handoff", s.handleHandoff)
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.endpoint.Publish(s.listener); err != nil {
		s.listener.Close()
		return err
	}

	s.startTime = time.Now()
	s.logger.Infof("Starting handoff server on %s, mode: %s", s.Address(), s.endpoint.Mode)

	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Handoff server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infof("Stopping handoff server")
	s.endpoint.Unpublish()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewNetworkError("handoff server shutdown failed", err)
	}
	return nil
}

func (s *Server) Address() string {
	return GetListenerAddress(s.listener)
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	var payload Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes)).Decode(&payload); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := payload.Validate(); err != nil {
		s.sendErrorFromDomainError(w, err)
		return
	}

	requestID := uuid.NewString()
	s.logger.Infof("Payload received, kind: %s, sender PID: %d, request: %s", payload.Kind, payload.SenderPID, requestID)

	if err := s.handler.HandlePayload(r.Context(), payload); err != nil {
		s.logger.Errorf("Payload handler failed, request: %s, error: %v", requestID, err)
		s.sendErrorFromDomainError(w, err)
		return
	}

	s.sendSuccess(w, DeliveryResponse{Accepted: true, RequestID: requestID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	s.sendSuccess(w, HealthResponse{
		Status:   "healthy",
		OwnerPID: os.Getpid(),
		Mode:     s.endpoint.Mode,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error:   message,
	}
	if err != nil {
		response.Context = map[string]string{"details": err.Error()}
	}

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		s.logger.Errorf("Failed to encode error response: %v", encErr)
	}

	s.logger.Warnf("Request error: %s (status: %d)", message, statusCode)
}

func (s *Server) sendErrorFromDomainError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	if errors.IsValidationError(err) {
		statusCode = http.StatusBadRequest
		message = "validation error"
	} else if errors.IsConflictError(err) {
		statusCode = http.StatusConflict
		message = "conflict"
	}

	s.sendError(w, statusCode, message, err)
}
