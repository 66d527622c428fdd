// Package gateway is the HTTP and WebSocket surface of the game server.
package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"investgame/internal/game"
	"investgame/internal/logger"
	"investgame/internal/model"
	"investgame/internal/portfolio"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server holds the handler dependencies.
type Server struct {
	svc     *game.Service
	hub     *Hub
	health  http.Handler
	metrics http.Handler
}

// NewServer creates the HTTP surface. health and metrics may be nil.
func NewServer(svc *game.Service, hub *Hub, health, metrics http.Handler) *Server {
	return &Server{svc: svc, hub: hub, health: health, metrics: metrics}
}

// Handler returns the routed handler wrapped in tracing and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withTrace(withCORS(mux))
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chart", s.handleChart)
	mux.HandleFunc("GET /api/analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/prices", s.handleLastPrices)
	mux.HandleFunc("POST /api/prices", s.handleIngest)
	mux.HandleFunc("GET /api/prices/preview", s.handlePreview)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleEndSession)
	mux.HandleFunc("POST /api/sessions/{id}/orders", s.handleOrder)
	mux.HandleFunc("GET /api/sessions/{id}/trades", s.handleTrades)

	mux.HandleFunc("GET /api/replay", s.handleReplay)
	mux.HandleFunc("GET /ws", s.handleWS)

	if s.health != nil {
		mux.Handle("GET /health", s.health)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeBadRequest(w, "asset is required")
		return
	}
	chart, err := s.svc.Chart(r.Context(), asset, queryInt(r, "limit", 0, 5000))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeBadRequest(w, "asset is required")
		return
	}
	v, err := s.svc.Analysis(r.Context(), asset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLastPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.LastPrices())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if errs := decodeAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	res, err := s.svc.IngestPrice(r.Context(), req.AssetPrice())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	price, err := strconv.ParseFloat(r.URL.Query().Get("price"), 64)
	if asset == "" || err != nil || price <= 0 {
		writeBadRequest(w, "asset and a positive price are required")
		return
	}
	res := s.svc.PreviewPrice(asset, price)
	if res == nil {
		writeError(w, r, game.ErrNoHistory)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if errs := decodeAndValidate(w, r, &req); errs != nil {
			writeValidation(w, errs)
			return
		}
	}
	view, err := s.svc.CreateSession(r.Context(), req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.EndSession(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if errs := decodeAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	fill, err := s.svc.PlaceOrder(r.Context(), req.Order(r.PathValue("id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("order filled",
		append(logger.LogWithTrace(r.Context()),
			"session", fill.SessionID, "action", fill.Action, "order", fill.OrderID)...)
	writeJSON(w, http.StatusCreated, fill)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.svc.Trades(r.Context(), r.PathValue("id"), queryInt(r, "limit", 50, 1000))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeBadRequest(w, "channel is required")
		return
	}
	from := int64(queryInt(r, "from", 1, 0))
	to := int64(queryInt(r, "to", 0, 0))
	if to == 0 {
		to = s.hub.ChannelSeq(channel)
	}
	writeJSON(w, http.StatusOK, s.hub.ReplayRange(channel, from, to))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session != "" {
		if _, err := s.svc.Session(r.Context(), session); err != nil {
			writeError(w, r, err)
			return
		}
	}
	var assets []string
	if a := r.URL.Query().Get("assets"); a != "" {
		assets = strings.Split(a, ",")
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	s.hub.Register(conn, session, assets)
}

// queryInt parses a positive integer query parameter. max <= 0 means no cap.
func queryInt(r *http.Request, key string, fallback, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, portfolio.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND"
	case errors.Is(err, portfolio.ErrPositionNotFound):
		return http.StatusNotFound, "POSITION_NOT_FOUND"
	case errors.Is(err, game.ErrNoHistory):
		return http.StatusNotFound, "NO_HISTORY"
	case errors.Is(err, portfolio.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE"
	case errors.Is(err, portfolio.ErrInsufficientHoldings):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_HOLDINGS"
	case errors.Is(err, portfolio.ErrRiskLimit):
		return http.StatusUnprocessableEntity, "RISK_LIMIT"
	case errors.Is(err, game.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_HISTORY"
	case errors.Is(err, portfolio.ErrInvalidOrder), errors.Is(err, model.ErrNonFinitePrice), errors.Is(err, game.ErrNoPrice):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, game.ErrNoJournal):
		return http.StatusNotImplemented, "NOT_CONFIGURED"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", append(logger.LogWithTrace(r.Context()), "path", r.URL.Path, "err", err)...)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "INVALID_REQUEST"})
}

func writeValidation(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "request validation failed", Code: "VALIDATION_FAILED", Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// withCORS sets CORS headers and answers preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTrace attaches a trace id (from X-Trace-Id or freshly generated) to
// the request context and logs the request.
func withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Trace-Id")
		if tid == "" {
			tid = logger.GenerateTraceID("req")
		}
		ctx := logger.WithTraceID(r.Context(), tid)
		w.Header().Set("X-Trace-Id", tid)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		slog.Debug("http request",
			append(logger.LogWithTrace(ctx),
				"method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())...)
	})
}
