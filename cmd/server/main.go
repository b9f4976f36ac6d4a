package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"starfall-online/internal/game"
	"starfall-online/internal/store"
	"starfall-online/internal/ws"
)

// Config is the environment-driven server configuration
type Config struct {
	Host          string
	Port          string
	RedisAddr     string
	RedisPassword string
	StaticDir     string
	Environment   string
}

func loadConfig() Config {
	cfg := Config{
		Host:          os.Getenv("HOST"),
		Port:          os.Getenv("PORT"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		StaticDir:     os.Getenv("STATIC_DIR"),
		Environment:   os.Getenv("ENVIRONMENT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "./web"
	}
	return cfg
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Server holds all server state
type Server struct {
	registry  *game.Registry
	hub       *ws.Hub
	directory store.Directory
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	staticDir string
}

// NewServer creates a new server instance
func NewServer(directory store.Directory, logger *zap.Logger) *Server {
	s := &Server{
		registry:  game.NewRegistry(logger),
		hub:       ws.NewHub(logger),
		directory: directory,
		logger:    logger,
		staticDir: "./web",
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     isAllowedWebSocketOrigin,
	}

	// Mirror registry changes into the published directory.
	s.registry.SetOnRoomUpdate(func(status game.RoomStatus) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		record := &store.RoomRecord{
			Code:      status.Code,
			Players:   status.Players,
			Started:   status.Started,
			CreatedAt: status.CreatedAt,
		}
		if err := s.directory.SaveRoom(ctx, record); err != nil {
			s.logger.Warn("Failed to publish room record", zap.String("room", status.Code), zap.Error(err))
		}
	})
	s.registry.SetOnRoomClose(func(code string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.directory.DeleteRoom(ctx, code); err != nil {
			s.logger.Warn("Failed to retire room record", zap.String("room", code), zap.Error(err))
		}
	})

	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	// CORS middleware; the upgrade endpoint enforces its own origin
	// allow-list, so these headers only matter for the JSON endpoints.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/ws/", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{code}", s.handleRoom).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	return r
}

// handleWebSocket upgrades the connection and hands it to a session
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session := ws.NewSession(uuid.New().String(), conn, s.registry, s.hub, s.logger)
	s.hub.Register(session)
	s.logger.Info("Session opened", zap.String("session", session.ID), zap.String("remote", r.RemoteAddr))
	session.Run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	rooms, players := s.registry.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"rooms":    rooms,
		"players":  players,
		"sessions": s.hub.Count(),
	})
}

// handleRoom serves the published directory record for a single room
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	record, err := s.directory.GetRoom(ctx, code)
	if err != nil {
		s.logger.Warn("Failed to read room record", zap.String("room", code), zap.Error(err))
		http.Error(w, "directory unavailable", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

// isAllowedWebSocketOrigin decides whether an upgrade request may
// proceed. Requests without an Origin header come from non-browser
// clients and are always allowed. Browsers are held to
// ALLOWED_WS_ORIGINS, or to localhost when the list is unset.
func isAllowedWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	allowedOrigins := os.Getenv("ALLOWED_WS_ORIGINS")
	if allowedOrigins == "" {
		return isLocalOrigin(origin)
	}
	return isOriginAllowed(origin, allowedOrigins)
}

// isOriginAllowed matches an origin against a comma separated
// allowlist. Matching is exact and case insensitive; wildcard entries
// are not supported.
func isOriginAllowed(origin, allowedOrigins string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range strings.Split(allowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" || allowed == "*" {
			continue
		}
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func isLocalOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func main() {
	cfg := loadConfig()

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var directory store.Directory
	if cfg.RedisAddr != "" {
		redisDir, err := store.NewRedisDirectory(cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			logger.Warn("Failed to connect to Redis, using in-memory directory", zap.Error(err))
			directory = store.NewMemoryDirectory()
		} else {
			logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))
			defer redisDir.Close()
			directory = redisDir
		}
	} else {
		logger.Info("REDIS_ADDR not set, using in-memory directory")
		directory = store.NewMemoryDirectory()
	}

	server := NewServer(directory, logger)
	server.staticDir = cfg.StaticDir

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: server.routes(),
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("ListenAndServe failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	server.hub.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Shutdown was not clean", zap.Error(err))
	}
}
