package simulator

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/contractdesk/realtime/internal/config"
)

// StatusAuthFailure is the close code sent when a websocket token is
// missing, unknown, or expired. Clients treat it as terminal and do not
// reconnect.
const StatusAuthFailure = websocket.StatusCode(4001)

const sessionLifetime = 8 * time.Hour

// Config holds simulator tuning.
type Config struct {
	CORSOrigins  []string
	TickInterval time.Duration // cadence of synthetic events; 0 disables the ticker
}

type session struct {
	userID    string
	expiresAt time.Time
}

// Server is the simulated ContractDesk realtime backend.
type Server struct {
	log *logrus.Logger
	cfg Config
	hub *Hub

	mu       sync.Mutex
	sessions map[string]session // token -> session

	startedAt  time.Time
	eventsSent atomic.Int64
	errorCount atomic.Int64

	router *gin.Engine
}

// New creates a simulator server. Call Run to start the hub and event
// generator, and Router (or ServeHTTP) to serve requests.
func New(log *logrus.Logger, cfg Config) *Server {
	s := &Server{
		log:       log,
		cfg:       cfg,
		hub:       NewHub(log),
		sessions:  make(map[string]session),
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()

	return s
}

// Router returns the HTTP handler serving the REST and websocket endpoints.
func (s *Server) Router() http.Handler { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run starts the hub loop and the synthetic event generator. It blocks
// until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.hub.Run(gctx)

		return nil
	})

	if s.cfg.TickInterval > 0 {
		g.Go(func() error {
			s.tickLoop(gctx)

			return nil
		})
	}

	return g.Wait()
}

// IssueToken creates a session token for the given user without going
// through the login endpoint.
func (s *Server) IssueToken(userID string) string {
	token := uuid.NewString()

	s.mu.Lock()
	s.sessions[token] = session{userID: userID, expiresAt: time.Now().Add(sessionLifetime)}
	s.mu.Unlock()

	return token
}

// lookupToken resolves a token to a user ID. Returns "" for unknown or
// expired tokens.
func (s *Server) lookupToken(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok || time.Now().After(sess.expiresAt) {
		delete(s.sessions, token)

		return ""
	}

	return sess.userID
}

func (s *Server) revokeToken(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(requestID())
	r.Use(s.ginLogger())
	r.Use(gin.Recovery())
	r.Use(securityHeaders())

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			MaxAge:           1 * time.Hour,
			AllowCredentials: false,
		}))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/connect", s.wsHandler())

	api := r.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/refresh", s.handleRefresh)
	api.POST("/auth/logout", s.handleLogout)
	api.GET("/realtime/stats", s.handleStats)

	return r
}

// requestIDKey is the gin context key for the per-request correlation ID,
// echoed back in the X-Request-ID response header.
const requestIDKey = "request_id"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}

func (s *Server) ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.Writer.Status() >= 500 {
			s.errorCount.Add(1)
		}

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(requestIDKey); exists {
			fields["request_id"] = rid
		}
		s.log.WithFields(fields).Debug("request")
	}
}

// wsHandler upgrades the connection, validates the session token, and hands
// the socket to the hub. Auth failures are reported with close code 4001 so
// the client knows the token is bad rather than the network.
func (s *Server) wsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		userID := s.lookupToken(token)

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       s.cfg.CORSOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			s.log.WithError(err).Error("websocket accept failed")
			s.errorCount.Add(1)

			return
		}

		if userID == "" {
			s.log.Info("rejecting websocket: invalid token")
			conn.Close(StatusAuthFailure, "authentication failed") //nolint:errcheck // best-effort

			return
		}

		client := newConn(s.hub, conn, userID, s.onClientFrame)
		s.hub.Register(client)

		// The welcome frame confirms the session before any other event.
		client.send <- s.connectionEstablished(userID)
		s.countEvent("connection_established")

		wsCtx, wsCancel := context.WithCancel(c.Request.Context())

		go client.writePump(wsCtx)
		client.readPump(wsCtx)
		wsCancel()
	}
}

// onClientFrame accounts for inbound client frames (presence, receipts).
func (s *Server) onClientFrame(userID string, frame []byte) {
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"bytes":   len(frame),
	}).Debug("client frame")
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "message": "email and password are required"})

		return
	}

	// The simulator accepts any credentials; identity is derived from the
	// email so repeated logins map to a stable user.
	userID := "u-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(req.Email)).String()
	token := s.IssueToken(userID)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user_id":    userID,
		"expires_at": time.Now().Add(sessionLifetime).UTC(),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	token := bearerToken(c)
	userID := s.lookupToken(token)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "invalid or expired session"})

		return
	}

	s.revokeToken(token)
	fresh := s.IssueToken(userID)

	c.JSON(http.StatusOK, gin.H{
		"token":      fresh,
		"user_id":    userID,
		"expires_at": time.Now().Add(sessionLifetime).UTC(),
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		s.revokeToken(token)
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": config.Version})
}

func (s *Server) handleStats(c *gin.Context) {
	if s.lookupToken(bearerToken(c)) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "invalid or expired session"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active_connections": s.hub.Active(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
		"events_sent":        s.eventsSent.Load(),
		"error_count":        s.errorCount.Load(),
	})
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	auth := c.GetHeader("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}

	return ""
}
