package devserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config configures a dev server.
type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// Server is an in-memory implementation of the chat server's REST and WebSocket contract.
type Server struct {
	store    *Store
	hub      *Hub
	tokens   *Tokens
	validate *validator.Validate
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time
}

// New builds a server with empty state.
func New(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		store:    NewStore(cfg.BcryptCost),
		hub:      NewHub(logger),
		tokens:   NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		log: logger,
		now: time.Now,
	}
}

// Store exposes the backing store.
func (s *Server) Store() *Store { return s.store }

// Hub exposes the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router wires the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Post("/register", s.handleRegister)
		api.Post("/login", s.handleLogin)
		api.Get("/messages", s.handleMessages)
		api.Get("/users/online", s.handleOnlineUsers)
		api.Get("/users/{username}/profile", s.handleUserProfile)
		api.Get("/ws", s.handleWebSocket)

		api.Route("/profile", func(p chi.Router) {
			p.Use(s.requireAuth)
			p.Get("/", s.handleGetProfile)
			p.Put("/", s.handleUpdateProfile)
			p.Put("/password", s.handleChangePassword)
			p.Post("/avatar", s.handleUploadAvatar)
		})
	})

	r.Get(avatarRoute+"{name}", s.handleAvatarFile)

	return r
}

// Shutdown closes every WebSocket peer.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.hub.CloseAll()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("[http] request")
	})
}
