// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package dashboard serves the read-mostly JSON API used by operator
// tooling: execution listings, run detail, pending gates, and the gate
// decision endpoint.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/engine"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/gate"
)

// Server exposes the engine over HTTP.
type Server struct {
	engine *engine.Engine
	http   *http.Server
}

// New builds a dashboard server bound to addr.
func New(addr string, eng *engine.Engine) *Server {
	s := &Server{engine: eng}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/executions", s.listExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", s.getExecution)
	mux.HandleFunc("GET /v1/executions/{id}/gates", s.getGateLog)
	mux.HandleFunc("GET /v1/gates", s.listPendingGates)
	mux.HandleFunc("POST /v1/gates/{id}/decision", s.decideGate)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route mux, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	slog.Info("dashboard.listen", slog.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": s.engine.List(),
	})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) getGateLog(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := s.engine.Get(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"gates": s.engine.GateLog(runID),
	})
}

func (s *Server) listPendingGates(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.PendingGates()
	out := make([]map[string]any, 0, len(pending))
	for _, g := range pending {
		entry := map[string]any{
			"id":       g.ID,
			"runId":    g.RunID,
			"phase":    g.Phase,
			"approver": g.Approver,
		}
		if !g.Deadline.IsZero() {
			entry["deadline"] = g.Deadline
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

type decisionRequest struct {
	Decision  string `json:"decision"` // PASS or FAIL
	Rationale string `json:"rationale"`
	Approver  string `json:"approver"`
}

func (s *Server) decideGate(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid decision body", err))
		return
	}
	res, err := s.engine.Approve(gate.Decision{
		GateID:    r.PathValue("id"),
		Decision:  gate.Outcome(req.Decision),
		Rationale: req.Rationale,
		Approver:  req.Approver,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("dashboard.encode", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	le := errors.AsLoomError(err)
	code := le.Code
	switch le.Code {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeParse:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
