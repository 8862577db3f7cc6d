// Package server exposes an engine over a websocket chat endpoint and reports
// liveness through the standard gRPC health service.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/becomeliminal/nim-assistant/engine"
	"github.com/becomeliminal/nim-assistant/logging"
)

// ServiceName is the gRPC health service name reported for the chat endpoint.
const ServiceName = "nim.assistant.Chat"

// Responder answers one chat turn.
type Responder interface {
	RespondTo(ctx context.Context, in *engine.Input) (string, error)
}

// Request is a client chat message.
type Request struct {
	Text string `json:"text"`
}

// Response is the server's answer to a Request.
type Response struct {
	Turn  string `json:"turn"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Server serves chat sessions.
type Server struct {
	responder Responder
	logger    *slog.Logger
	authToken string
	upgrader  websocket.Upgrader
	health    *health.Server

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	draining bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logging.Component(l, "server")
	}
}

// WithAuthToken requires "Authorization: Bearer <token>" on the chat endpoint.
func WithAuthToken(token string) Option {
	return func(s *Server) {
		s.authToken = token
	}
}

// New creates a server around r.
func New(r Responder, opts ...Option) *Server {
	s := &Server{
		responder: r,
		logger:    logging.Component(logging.Discard(), "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		health: health.NewServer(),
		conns:  map[*websocket.Conn]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/chat", s.handleChat)
	})
	return r
}

func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	connID := uuid.NewString()
	logger := s.logger.With("conn", connID)
	logger.Info("chat session opened", "remote", r.RemoteAddr)
	defer logger.Info("chat session closed")

	ctx := logging.With(r.Context(), logger)
	for seq := 1; ; seq++ {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				logger.Debug("chat read ended", "error", err)
			}
			return
		}

		turnID := connID + "-" + strconv.Itoa(seq)
		resp := Response{Turn: turnID}
		if strings.TrimSpace(req.Text) == "" {
			resp.Error = "text is required"
		} else {
			text, err := s.responder.RespondTo(ctx, &engine.Input{Text: req.Text, TurnID: turnID})
			resp.Text = text
			if err != nil {
				logger.Error("turn failed", "error", err, "turn", turnID)
				resp.Error = err.Error()
			}
		}

		if err := conn.WriteJSON(resp); err != nil {
			logger.Warn("chat write failed", "error", err)
			return
		}
	}
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		_ = c.Close()
	}
}

// closeConns closes every open chat session. Hijacked connections are not
// covered by http.Server.Shutdown.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = true
	for c := range s.conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = c.Close()
		delete(s.conns, c)
	}
}

// Serve runs the chat endpoint on httpLn and the health service on healthLn
// until ctx is done. healthLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, healthLn net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var grpcServer *grpc.Server
	if healthLn != nil {
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, s.health)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info("starting chat server", "addr", httpLn.Addr().String())
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "chat server failed")
		}
		return nil
	})

	if grpcServer != nil {
		eg.Go(func() error {
			s.logger.Info("starting health server", "addr", healthLn.Addr().String())
			if err := grpcServer.Serve(healthLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return goerr.Wrap(err, "health server failed")
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.closeConns()
		err := httpServer.Shutdown(shutdownCtx)
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err != nil {
			return goerr.Wrap(err, "failed to shutdown chat server gracefully")
		}
		return nil
	})

	return eg.Wait()
}

// ListenAndServe listens on addr and healthAddr and calls Serve. An empty
// healthAddr disables the health service.
func (s *Server) ListenAndServe(ctx context.Context, addr, healthAddr string) error {
	var lc net.ListenConfig
	httpLn, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}

	var healthLn net.Listener
	if healthAddr != "" {
		if healthLn, err = lc.Listen(ctx, "tcp", healthAddr); err != nil {
			_ = httpLn.Close()
			return goerr.Wrap(err, "failed to listen", goerr.V("addr", healthAddr))
		}
	}
	return s.Serve(ctx, httpLn, healthLn)
}
