package server

import (
	"net/http"
	"strings"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Generation jobs
	mux.HandleFunc("/api/jobs", s.handleJobsCollection) // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)     // GET /{id}, GET /{id}/events, POST /{id}/cancel

	// API routes - Queue snapshot
	mux.HandleFunc("/api/queue/snapshot", s.app.QueueHandler.SnapshotHandler)

	// API routes - Token ledger
	mux.HandleFunc("/api/users/", s.handleUserRoutes) // GET /{id}/balance, GET /{id}/ledger, POST /{id}/topup

	// API routes - DCC bridge (Blender addon)
	mux.HandleFunc("/api/dcc/pair-codes", s.app.BridgeHandler.IssuePairCodeHandler)
	mux.HandleFunc("/api/dcc/blender/pair", s.handleBridgePair)
	mux.HandleFunc("/api/dcc/blender/jobs", s.app.BridgeHandler.ListDeliveriesHandler)
	mux.HandleFunc("/api/dcc/blender/jobs/", s.handleBridgeJobRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.versionHandler)
	mux.HandleFunc("/api/health", s.healthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

func (s *Server) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.JobHandler.ListJobsHandler(w, r)
	case http.MethodPost:
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")

	switch {
	case strings.HasSuffix(path, "/cancel"):
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.CancelJobHandler(w, r)
	case strings.HasSuffix(path, "/events"):
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetJobEventsHandler(w, r)
	default:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.app.JobHandler.GetJobHandler(w, r)
	}
}

// handleUserRoutes routes /api/users/{id}/balance, /ledger and /topup
func (s *Server) handleUserRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")

	switch {
	case strings.HasSuffix(path, "/balance") && r.Method == http.MethodGet:
		s.app.LedgerHandler.BalanceHandler(w, r)
	case strings.HasSuffix(path, "/ledger") && r.Method == http.MethodGet:
		s.app.LedgerHandler.EventsHandler(w, r)
	case strings.HasSuffix(path, "/topup") && r.Method == http.MethodPost:
		s.app.LedgerHandler.TopUpHandler(w, r)
	default:
		s.notFoundHandler(w, r)
	}
}

func (s *Server) handleBridgePair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.BridgeHandler.PairHandler(w, r)
}

// handleBridgeJobRoutes routes /api/dcc/blender/jobs/{id}/ack
func (s *Server) handleBridgeJobRoutes(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/ack") && r.Method == http.MethodPost {
		s.app.BridgeHandler.AckDeliveryHandler(w, r)
		return
	}
	s.notFoundHandler(w, r)
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Not found")
}
