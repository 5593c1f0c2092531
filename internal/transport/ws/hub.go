package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/internal/metrics_collectors"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

var (
	_ Session                       = (*services.SessionService)(nil)
	_ services.ConnectionTerminator = (*Hub)(nil)
)

// Session is the session controller the hub reports connection events to.
type Session interface {
	Connect(ctx context.Context, connID, deviceID string) error
	Disconnect(ctx context.Context, connID string) error
	UpdateLocation(ctx context.Context, connID string, lat, lon float64) error
	ReassignOperator(ctx context.Context, connID, operatorID string) error
	ClientPing(connID string)
	HeartbeatTick(connID string) bool
}

// Hub accepts device websockets and keeps the set of open connections.
type Hub struct {
	Address           string
	HeartbeatInterval time.Duration
	Session           Session
	QueueLen          func() int                          // optional, reported by the health check
	Metrics           *metrics_collectors.MetricsRegistry // optional, served on /metrics
	Logger            zerolog.Logger

	upgrader    websocket.Upgrader
	connections cmap.ConcurrentMap[string, *Connection]

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHub initializes a new Hub.
func NewHub(address string, heartbeatInterval time.Duration, session Session, logger zerolog.Logger) *Hub {
	return &Hub{
		Address:           address,
		HeartbeatInterval: heartbeatInterval,
		Session:           session,
		Logger:            logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connections: cmap.New[*Connection](),
	}
}

// Router returns the HTTP handler serving the hub and the health check.
func (h *Hub) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(h.Logger))

	router.GET("/hubs/device", h.handleDevice)
	router.GET("/healthz", h.handleHealth)
	router.GET("/metrics", h.handleMetrics)
	return router
}

func (h *Hub) handleDevice(c *gin.Context) {
	deviceID := c.Query("udid")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "udid is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Str("device_id", deviceID).Msg("Websocket upgrade failed")
		return
	}

	wsConn := newConnection(h, conn, uuid.NewString(), deviceID)
	h.connections.Set(wsConn.ID, wsConn)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.Session.Connect(ctx, wsConn.ID, deviceID); err != nil {
		wsConn.logger.Error().Err(err).Msg("Connect not fully applied")
	}

	go wsConn.writePump()
	go wsConn.readPump()
}

func (h *Hub) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"connections": h.connections.Count(),
	}
	if h.QueueLen != nil {
		body["queue"] = h.QueueLen()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Hub) handleMetrics(c *gin.Context) {
	if h.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics are not enabled"})
		return
	}
	c.JSON(http.StatusOK, h.Metrics.Snapshot(c.Request.Context()))
}

// release forgets conn and reports the disconnect.
func (h *Hub) release(conn *Connection) {
	h.connections.Remove(conn.ID)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.Session.Disconnect(ctx, conn.ID); err != nil {
		conn.logger.Error().Err(err).Msg("Disconnect not fully applied")
	}
}

// Terminate forcibly closes the connection with connID.
func (h *Hub) Terminate(connID string) error {
	conn, ok := h.connections.Get(connID)
	if !ok {
		return fmt.Errorf("connection %s not found", connID)
	}
	conn.logger.Info().Msg("Closing connection")
	conn.Close(websocket.ClosePolicyViolation, "liveness timeout")
	return nil
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	return h.connections.Count()
}

// Start listens on Address and serves the hub in the background.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server != nil {
		h.Logger.Warn().Msg("Hub is already running")
		return errors.New("hub is already running")
	}

	ln, err := net.Listen("tcp", h.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.Address, err)
	}
	h.listener = ln
	h.server = &http.Server{Handler: h.Router(), ReadHeaderTimeout: 10 * time.Second}

	h.wg.Add(1)
	go func(srv *http.Server) {
		defer h.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.Logger.Error().Err(err).Msg("Hub server failed")
		}
	}(h.server)

	h.Logger.Info().Str("address", ln.Addr().String()).Msg("Hub started successfully")
	return nil
}

// Addr returns the bound listen address while the hub is running.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Stop shuts the HTTP server down and closes every open connection.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.server == nil {
		h.Logger.Warn().Msg("Hub is not running")
		return errors.New("hub is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.server.Shutdown(ctx)

	for _, conn := range h.connections.Items() {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	h.wg.Wait()
	h.server, h.listener = nil, nil

	if err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}
	h.Logger.Info().Msg("Hub stopped successfully")
	return nil
}
