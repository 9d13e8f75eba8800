// Package api exposes the staking engine over JSON HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Options for creating Server.
type Options struct {
	Engine *staking.Engine

	// Optional event journal backing GET /pools/{id}/events
	Events storage.EventStore

	Logger *log.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	engine *staking.Engine
	events storage.EventStore
	logger *log.Logger
}

// New creates a new Server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Server{
		engine: opts.Engine,
		events: opts.Events,
		logger: opts.Logger,
	}, nil
}

// Register mounts all routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.handle(mux, "POST /pools", s.handleCreatePool)
	s.handle(mux, "GET /pools", s.handleListPools)
	s.handle(mux, "GET /pools/{id}", s.handleGetPool)
	s.handle(mux, "POST /pools/{id}/fund", s.handleFund)
	s.handle(mux, "POST /pools/{id}/stake", s.handleStake)
	s.handle(mux, "POST /pools/{id}/unstake", s.handleUnstake)
	s.handle(mux, "POST /pools/{id}/claim", s.handleClaim)
	s.handle(mux, "GET /pools/{id}/positions", s.handleListPositions)
	s.handle(mux, "GET /pools/{id}/positions/{user}", s.handleGetPosition)
	s.handle(mux, "GET /pools/{id}/events", s.handleEvents)
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle wraps a handler with error mapping and request metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if err := h(rec, r); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				s.logger.Printf("ERROR %s %s: %v", r.Method, r.URL.Path, err)
			}
			writeJSON(rec, status, errorResponse{Error: err.Error(), Code: errorCode(err)})
		}

		observability.RecordHTTPRequest(pattern, rec.status, time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func poolIDParam(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest(fmt.Sprintf("invalid pool id %q", raw))
	}
	return id, nil
}

func pubkeyParam(name, raw string) (domain.Pubkey, error) {
	if raw == "" {
		return domain.Pubkey{}, badRequest(name + " is required")
	}
	pk, err := domain.ParsePubkey(raw)
	if err != nil {
		return domain.Pubkey{}, badRequest(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return pk, nil
}
