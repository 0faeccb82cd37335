package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treverson/BarterDEX/pkg/depth"
	"github.com/treverson/BarterDEX/pkg/models"
	"github.com/treverson/BarterDEX/pkg/portfolio"
	"github.com/treverson/BarterDEX/pkg/session"
)

// Server exposes the client state to the rendering shell over local HTTP.
// It only observes; all mutation goes through the message channel.
type Server struct {
	store   *portfolio.Store
	depth   *depth.Subscriber
	session *session.Controller
	logger  *logrus.Logger
	port    string
}

func NewServer(store *portfolio.Store, depth *depth.Subscriber, session *session.Controller, logger *logrus.Logger, port string) *Server {
	return &Server{
		store:   store,
		depth:   depth,
		session: session,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/portfolio", s.handlePortfolio)
	mux.HandleFunc("/api/assets", s.handleAssets)
	mux.HandleFunc("/api/depth", s.handleDepth)
	mux.HandleFunc("/api/session/pending", s.handlePending)

	// Enable CORS for the rendering shell
	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe("127.0.0.1:"+s.port, handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	base, rel := s.store.TradeLegs()
	response := map[string]interface{}{
		"total_kmd":         s.store.TotalValue(true),
		"total_fiat":        s.store.TotalValue(false),
		"evolution_percent": s.store.EvolutionPercent(),
		"trade_base":        base,
		"trade_rel":         rel,
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string][]models.Asset{
		"installed": s.store.InstalledAssets(),
		"known":     s.store.KnownAssets(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	book := s.depth.Book()
	response := map[string]interface{}{
		"book":          book,
		"max_ask_depth": models.MaxDepth(book.Asks),
		"max_bid_depth": models.MaxDepth(book.Bids),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"requests":     s.session.PendingRequests(),
		"confirmation": s.session.PendingConfirmation(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
