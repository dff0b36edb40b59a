package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"i4.energy/across/nbiotgw/nbiot"
	"i4.energy/across/nbiotgw/outbox"
)

// Server handles incoming HTTP requests for interacting with the
// configured HAT instance and the publish queue
type Server struct {
	Logger *slog.Logger
	Hat    *nbiot.Hat
	Outbox *outbox.Store
	// Token, when non-empty, is required as a bearer token on /publish
	Token string
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /publish", s.handlePublish)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleStatus reports the modem, context and session state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Readiness     string `json:"readiness"`
		ActiveContext *int   `json:"active_context"`
		IPAddress     string `json:"ip_address,omitempty"`
		Connected     bool   `json:"connected"`
		Queued        int    `json:"queued"`
		Failed        int    `json:"failed"`
	}

	resp := StatusResponse{
		Readiness: s.Hat.Readiness().String(),
		Connected: s.Hat.Connected(),
	}
	if id, ok := s.Hat.ActiveContextID(); ok {
		resp.ActiveContext = &id
	}
	if pdp, ok := s.Hat.ActiveContext(); ok {
		resp.IPAddress = pdp.IPAddress
	}
	if queued, _, failed, err := s.Outbox.Counts(); err == nil {
		resp.Queued = queued
		resp.Failed = failed
	} else {
		s.Logger.Error("Failed to read outbox counts", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handlePublish enqueues a message for the drain worker to publish
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		s.sendError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	type PublishRequest struct {
		Topic   string `json:"topic"`
		Payload string `json:"payload"`
		QoS     int    `json:"qos"`
		Retain  bool   `json:"retain"`
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Topic == "" || req.Payload == "" {
		s.sendError(w, "both 'topic' and 'payload' fields are required", http.StatusBadRequest)
		return
	}
	if req.QoS < 0 || req.QoS > 2 {
		s.sendError(w, "'qos' must be 0, 1 or 2", http.StatusBadRequest)
		return
	}

	msg, err := s.Outbox.Enqueue(req.Topic, []byte(req.Payload), req.QoS, req.Retain)
	if err != nil {
		s.Logger.Error("Failed to enqueue message", "error", err, "topic", req.Topic)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("Message enqueued", "id", msg.ID, "topic", req.Topic, "payload_length", len(req.Payload))

	type PublishResponse struct {
		ID string `json:"id"`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(PublishResponse{ID: msg.ID})
}
