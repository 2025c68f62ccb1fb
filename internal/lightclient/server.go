package lightclient

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// Server serves the light-client API for one app id on top of a ledger.
type Server struct {
	backend ledger.Client
	appID   ledger.AppID
	logger  *slog.Logger
	router  *httprouter.Router
}

// NewServer creates a server publishing appID's blobs from backend.
func NewServer(backend ledger.Client, appID ledger.AppID, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		appID:   appID,
		logger:  logger,
		router:  httprouter.New(),
	}
	s.router.GET("/v2/status", s.handleStatus)
	s.router.GET("/v2/blocks/:height/data", s.handleBlockData)
	s.router.POST("/v2/submit", s.handleSubmit)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	tip, err := s.backend.LatestHeight(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	var resp statusResponse
	resp.Blocks.Latest = tip
	id := uint32(s.appID)
	resp.AppID = &id
	s.reply(w, http.StatusOK, resp)
}

func (s *Server) handleBlockData(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	height, err := strconv.ParseUint(ps.ByName("height"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	tip, err := s.backend.LatestHeight(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if height > tip {
		s.reply(w, http.StatusNotFound, errorResponse{Error: "block not available"})
		return
	}

	blobs, err := s.backend.Fetch(r.Context(), height, s.appID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp := blockDataResponse{BlockNumber: height, DataTransactions: make([]dataTransaction, 0, len(blobs))}
	for _, b := range blobs {
		resp.DataTransactions = append(resp.DataTransactions, dataTransaction{Data: b})
	}
	s.reply(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Data) == 0 {
		s.reply(w, http.StatusBadRequest, errorResponse{Error: "data must not be empty"})
		return
	}
	height, err := s.backend.Submit(r.Context(), s.appID, req.Data)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, http.StatusOK, submitResponse{BlockNumber: height})
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", "status", status, "error", err)
	s.reply(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}
