package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corkboard-app/corkboard/internal/metrics"
	"github.com/corkboard-app/corkboard/internal/scheduler"
	"github.com/corkboard-app/corkboard/internal/storage"
)

// Version identifies the server build on the health endpoint.
const Version = "2.0.0"

var (
	errMissingProtocol = errors.New("protocol dependency required")

	upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Identity is client-supplied and unverified; origin checks would
		// add nothing.
		CheckOrigin: func(*http.Request) bool { return true },
	}
)

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	Protocol  *Protocol
	Registry  *Registry
	Catalog   *storage.Catalog
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewHTTPHandler builds the router: the websocket upgrade endpoint, the REST
// surface, and metrics. Every response carries permissive CORS headers.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Protocol == nil {
		return nil, fmt.Errorf("server.router.new.missing_protocol: %w", errMissingProtocol)
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("server.router.new.missing_registry: %w", errMissingRegistry)
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("server.router.new.missing_catalog: %w", errMissingCatalog)
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("server.router.new.missing_scheduler: %w", errMissingScheduler)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("request panic recovered", zap.Any("panic", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:           true,
		AllowMethods:              []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:              []string{"Content-Type", "Authorization"},
		OptionsResponseStatusCode: http.StatusOK,
		MaxAge:                    12 * time.Hour,
	}))

	handler := &httpHandler{
		protocol: deps.Protocol,
		registry: deps.Registry,
		catalog:  deps.Catalog,
		sched:    deps.Scheduler,
		logger:   logger,
	}

	// The cors middleware only short-circuits OPTIONS requests that carry an
	// Origin header. Plain OPTIONS gets the same permissive answer.
	router.OPTIONS("/*path", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Status(http.StatusOK)
	})

	router.GET("/ws", handler.handleUpgrade)

	api := router.Group("/api")
	api.GET("/notes", handler.handleNotes)
	api.GET("/health", handler.handleHealth)
	api.GET("/debug", handler.handleDebug)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "path": c.Request.URL.Path})
	})

	return router, nil
}

type httpHandler struct {
	protocol *Protocol
	registry *Registry
	catalog  *storage.Catalog
	sched    *scheduler.Scheduler
	logger   *zap.Logger
}

func (h *httpHandler) handleUpgrade(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusUpgradeRequired, "Expected Upgrade: websocket")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.protocol.ServeConn(ws)
}

func (h *httpHandler) handleNotes(c *gin.Context) {
	collection := h.catalog.LoadAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"notes": emptyIfNil(collection)})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	status := "ok"
	storageStatus := "ok"
	if err := h.catalog.Ping(c.Request.Context()); err != nil {
		status = "degraded"
		storageStatus = "unreachable"
		h.logger.Warn("storage health probe failed", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           status,
		"storage":          storageStatus,
		"version":          Version,
		"timestamp":        time.Now().UnixMilli(),
		"connectedClients": h.registry.Count(),
		"queues":           h.sched.Depths(),
	})
}

func (h *httpHandler) handleDebug(c *gin.Context) {
	sessions := h.registry.DebugSessions()
	clients := make([]gin.H, 0, len(sessions))
	for _, info := range sessions {
		clients = append(clients, gin.H{
			"id":        truncateID(info.ID),
			"user":      info.User,
			"lastSeen":  info.LastSeen.UTC().Format(time.RFC3339),
			"connected": info.Connected,
		})
	}

	snapshot := gin.H{
		"connectedClients": h.registry.Count(),
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"queues":           h.sched.Depths(),
		"isDraining":       h.sched.Draining(),
		"clients":          clients,
	}
	if age, ok := h.catalog.CacheAge(); ok {
		snapshot["cacheAgeSeconds"] = int64(age.Seconds())
	}

	c.JSON(http.StatusOK, snapshot)
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
