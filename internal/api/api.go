// Package api provides the HTTP API for the find-the-ai game server.
//
// @title Find the AI API
// @version 1.0
// @description Multi-room social-deduction game server: humans chat with AI players and vote to find them.
// @description Real-time events are delivered over the /ws WebSocket endpoint.
//
// @contact.name API Support
// @contact.url https://github.com/benchay1999/find-the-ai
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter 'Bearer {token}' to authorize
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/benchay1999/find-the-ai/internal/auth"
	"github.com/benchay1999/find-the-ai/internal/room"
	"github.com/benchay1999/find-the-ai/internal/store"
	"github.com/benchay1999/find-the-ai/internal/types"
)

type contextKey string

const humanKeyCtx contextKey = "human_key"

type Server struct {
	Router   *chi.Mux
	registry *room.Registry
	store    *store.Store
	jwt      *auth.JWTManager
	logger   *zap.Logger
	llmInfo  LLMInfo
}

// LLMInfo is reported by the health endpoint.
type LLMInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func NewServer(registry *room.Registry, st *store.Store, jwt *auth.JWTManager, wsHandler http.Handler, llmInfo LLMInfo, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	s := &Server{
		Router:   r,
		registry: registry,
		store:    st,
		jwt:      jwt,
		logger:   logger,
		llmInfo:  llmInfo,
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Post("/v1/auth/quick", s.quickLogin)

	r.Route("/v1/rooms", func(r chi.Router) {
		r.Get("/", s.listRooms)
		r.Get("/{code}", s.roomInfo)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.createRoom)
			r.Post("/{code}/join", s.joinRoom)
			r.Post("/{code}/leave", s.leaveRoom)
			r.Post("/{code}/message", s.sendMessage)
			r.Post("/{code}/vote", s.vote)
		})
	})

	r.Get("/v1/stats", s.listStats)

	if wsHandler != nil {
		r.Handle("/ws", wsHandler)
	}
	return s
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, types.NewError(types.ErrUnauthorized, "missing bearer token"))
			return
		}
		claims, err := s.jwt.Parse(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, types.NewError(types.ErrUnauthorized, "invalid token"))
			return
		}
		ctx := context.WithValue(r.Context(), humanKeyCtx, claims.HumanKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func humanKeyFrom(ctx context.Context) string {
	v, _ := ctx.Value(humanKeyCtx).(string)
	return v
}

// health godoc
// @Summary Health check endpoint
// @Description Returns server health and LLM provider info
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"llm":    s.llmInfo,
	})
}

// QuickLoginRequest is a name-only login.
type QuickLoginRequest struct {
	Name string `json:"name" example:"Alice"`
}

// QuickLoginResponse carries the bearer token transports use from then on.
type QuickLoginResponse struct {
	Token    string `json:"token" example:"eyJhbGciOiJIUzI1NiIs..."`
	HumanKey string `json:"human_key" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name     string `json:"name" example:"Alice"`
}

// quickLogin godoc
// @Summary Quick login with just a display name
// @Description Issues a JWT identifying this human across rooms; no password needed
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body QuickLoginRequest true "Display name"
// @Success 200 {object} QuickLoginResponse
// @Failure 400 {object} types.AppError
// @Router /v1/auth/quick [post]
func (s *Server) quickLogin(w http.ResponseWriter, r *http.Request) {
	var req QuickLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidParams, "invalid json"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, types.NewError(types.ErrInvalidParams, "name required"))
		return
	}
	humanKey := uuid.NewString()
	token, err := s.jwt.Generate(humanKey, req.Name)
	if err != nil {
		writeError(w, types.WrapError(types.ErrInternal, "cannot issue token", err))
		return
	}
	writeJSON(w, http.StatusOK, QuickLoginResponse{Token: token, HumanKey: humanKey, Name: req.Name})
}

// CreateRoomRequest configures a new room.
type CreateRoomRequest struct {
	MaxHumans    int    `json:"max_humans" example:"2"`
	TotalPlayers int    `json:"total_players" example:"6"`
	Passcode     string `json:"passcode,omitempty"`
}

// CreateRoomResponse returns the room code.
type CreateRoomResponse struct {
	Code string `json:"code" example:"A1B2C3"`
}

// createRoom godoc
// @Summary Create a room
// @Description Allocates a room with the given human/AI split and returns its code
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body CreateRoomRequest true "Room parameters"
// @Success 200 {object} CreateRoomResponse
// @Failure 400 {object} types.AppError
// @Failure 429 {object} types.AppError
// @Router /v1/rooms [post]
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidParams, "invalid json"))
		return
	}
	rm, err := s.registry.Create(req.MaxHumans, req.TotalPlayers, req.Passcode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CreateRoomResponse{Code: rm.Code})
}

// ListRoomsResponse pages through waiting rooms.
type ListRoomsResponse struct {
	Rooms      []room.Summary `json:"rooms"`
	TotalPages int            `json:"total_pages"`
}

// listRooms godoc
// @Summary List joinable rooms
// @Description Waiting rooms only, oldest first
// @Tags Rooms
// @Produce json
// @Param page query int false "Page (1-based)"
// @Param per_page query int false "Page size"
// @Success 200 {object} ListRoomsResponse
// @Router /v1/rooms [get]
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	rooms, totalPages := s.registry.List(page, perPage)
	writeJSON(w, http.StatusOK, ListRoomsResponse{Rooms: rooms, TotalPages: totalPages})
}

// roomInfo godoc
// @Summary Room details
// @Tags Rooms
// @Produce json
// @Param code path string true "Room code"
// @Success 200 {object} room.Info
// @Failure 404 {object} types.AppError
// @Router /v1/rooms/{code} [get]
func (s *Server) roomInfo(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rm.Info())
}

// JoinRequest optionally carries a private-room passcode.
type JoinRequest struct {
	Passcode string `json:"passcode,omitempty"`
}

// JoinResponse returns the seat taken.
type JoinResponse struct {
	PlayerID string `json:"player_id" example:"Player 3"`
}

// joinRoom godoc
// @Summary Join a room
// @Description Takes the smallest free seat; filling the last seat starts the game
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param code path string true "Room code"
// @Param request body JoinRequest false "Join options"
// @Success 200 {object} JoinResponse
// @Failure 404 {object} types.AppError
// @Failure 409 {object} types.AppError
// @Router /v1/rooms/{code}/join [post]
func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req JoinRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	playerID, err := rm.Join(r.Context(), humanKeyFrom(r.Context()), req.Passcode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{PlayerID: playerID})
}

// LeaveRequest names the seat to vacate.
type LeaveRequest struct {
	PlayerID string `json:"player_id" example:"Player 3"`
}

// leaveRoom godoc
// @Summary Leave a room
// @Description The creator leaving terminates the room
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param code path string true "Room code"
// @Param request body LeaveRequest true "Seat"
// @Success 200 {object} map[string]string
// @Failure 404 {object} types.AppError
// @Router /v1/rooms/{code}/leave [post]
func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidParams, "invalid json"))
		return
	}
	if err := rm.Leave(r.Context(), req.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SendMessageRequest carries one chat message.
type SendMessageRequest struct {
	PlayerID string `json:"player_id" example:"Player 3"`
	Text     string `json:"text" example:"hello everyone"`
}

// sendMessage godoc
// @Summary Send a chat message
// @Description Accepted only during discussion; may cause AI replies
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param code path string true "Room code"
// @Param request body SendMessageRequest true "Message"
// @Success 200 {object} map[string]string
// @Failure 404 {object} types.AppError
// @Failure 409 {object} types.AppError
// @Router /v1/rooms/{code}/message [post]
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidParams, "invalid json"))
		return
	}
	if err := rm.SendMessage(r.Context(), req.PlayerID, req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VoteRequest casts one ballot.
type VoteRequest struct {
	Voter  string `json:"voter" example:"Player 3"`
	Target string `json:"target" example:"Player 5"`
}

// vote godoc
// @Summary Cast a vote
// @Description Accepted only during voting; one ballot per voter per round
// @Tags Rooms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param code path string true "Room code"
// @Param request body VoteRequest true "Ballot"
// @Success 200 {object} map[string]string
// @Failure 404 {object} types.AppError
// @Failure 409 {object} types.AppError
// @Router /v1/rooms/{code}/vote [post]
func (s *Server) vote(w http.ResponseWriter, r *http.Request) {
	rm, err := s.registry.Get(chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidParams, "invalid json"))
		return
	}
	if err := rm.Vote(r.Context(), req.Voter, req.Target); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listStats godoc
// @Summary Recent finished games
// @Tags Stats
// @Produce json
// @Param limit query int false "Max records"
// @Success 200 {array} store.StoredStats
// @Router /v1/stats [get]
func (s *Server) listStats(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	recs, err := s.store.ListStats(ctx, limit)
	if err != nil {
		writeError(w, types.WrapError(types.ErrInternal, "cannot list stats", err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	app, ok := err.(*types.AppError)
	if !ok {
		app = types.WrapError(types.ErrInternal, "internal error", err)
	}
	writeJSON(w, statusFor(app.Code), app)
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrInvalidParams:
		return http.StatusBadRequest
	case types.ErrRoomFull, types.ErrAlreadyStarted, types.ErrPhaseMismatch, types.ErrAlreadyVoted:
		return http.StatusConflict
	case types.ErrTerminated:
		return http.StatusGone
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrCapacityExceeded, types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
