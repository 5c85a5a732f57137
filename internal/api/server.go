package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mwquant/trendscan/internal/backtest"
	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
)

// Server exposes cached scan results, market environment and verification
// reports over HTTP. Market and Verifier are optional; the matching routes
// return 503 when the dependency is absent.
type Server struct {
	store    *scancache.Store
	market   EnvironmentFunc
	verifier *backtest.Verifier
	jwt      *JWTManager
	log      zerolog.Logger
}

// EnvironmentFunc resolves the current market environment. A nil return
// means the upstream data could not be reached.
type EnvironmentFunc func(r *http.Request) *types.MarketEnvironment

func NewServer(store *scancache.Store, market EnvironmentFunc, verifier *backtest.Verifier, jwt *JWTManager, log zerolog.Logger) *Server {
	return &Server{
		store:    store,
		market:   market,
		verifier: verifier,
		jwt:      jwt,
		log:      log,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.log))
	r.Use(CorsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Post("/api/auth/token", s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(s.jwt))

		r.Get("/api/results", s.handleResults)
		r.Get("/api/dates", s.handleDates)
		r.Get("/api/market", s.handleMarket)
		r.Delete("/api/market", s.handleClearMarket)
		r.Get("/api/verify/forward", s.handleForward)
		r.Get("/api/verify/compare", s.handleCompare)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, "healthy")
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	token, err := s.jwt.GenerateToken(req.UserID, 24)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"token": token})
}

func scanTypeParam(r *http.Request) scancache.ScanType {
	if r.URL.Query().Get("scan_type") == string(scancache.ScanTrendStart) {
		return scancache.ScanTrendStart
	}
	return scancache.ScanSignalAnalysis
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	scanType := scanTypeParam(r)
	date := r.URL.Query().Get("date")
	if date == "" {
		dates := s.store.AvailableDates(scanType)
		if len(dates) == 0 {
			WriteError(w, http.StatusNotFound, "no results available")
			return
		}
		date = dates[0]
	}

	doc, err := s.store.HistoricalResults(scanType, date)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if doc == nil {
		WriteError(w, http.StatusNotFound, "no results for "+date)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.store.AvailableDates(scanTypeParam(r)))
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if env := s.store.MarketEnvironment(); env != nil {
		WriteJSON(w, http.StatusOK, env)
		return
	}
	if s.market == nil {
		WriteError(w, http.StatusServiceUnavailable, "market analysis not configured")
		return
	}
	env := s.market(r)
	if env == nil {
		WriteError(w, http.StatusServiceUnavailable, "market data unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, env)
}

func (s *Server) handleClearMarket(w http.ResponseWriter, r *http.Request) {
	s.store.ClearMarketEnvironment()
	WriteJSON(w, http.StatusOK, "cleared")
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		WriteError(w, http.StatusServiceUnavailable, "verification not configured")
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		WriteError(w, http.StatusBadRequest, "date is required")
		return
	}

	rows, err := s.verifier.ForwardReturns(r.Context(), scanTypeParam(r), date)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		WriteError(w, http.StatusServiceUnavailable, "verification not configured")
		return
	}
	dates := strings.Split(r.URL.Query().Get("dates"), ",")
	if len(dates) < 2 || dates[0] == "" {
		WriteError(w, http.StatusBadRequest, "at least two comma separated dates are required")
		return
	}

	cmp, err := s.verifier.CompareDates(scanTypeParam(r), dates)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, cmp)
}
