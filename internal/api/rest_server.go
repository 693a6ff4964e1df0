package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/game"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/middleware"
	"github.com/annel0/bigworld/internal/spawn"
)

// RestServer представляет управляющую REST-поверхность сессии мира
type RestServer struct {
	router           *gin.Engine
	session          *game.Session
	port             string
	srv              *http.Server
	metrics          *ServerMetrics
	webhookConfig    WebhookConfig
	outboundWebhooks *OutboundWebhookManager
	history          *EventHistory
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port    string            // адрес вида ":8088"
	Session *game.Session     // сессия мира, которой управляет API
	Bus     eventbus.EventBus // шина событий для истории и webhook'ов, опциональна
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("world_api"))

	promMw := middleware.NewPrometheusMiddleware("world_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:  router,
		session: config.Session,
		port:    config.Port,
		metrics: NewServerMetrics(),
		webhookConfig: WebhookConfig{
			SecretKey:        os.Getenv("BIGWORLD_WEBHOOK_SECRET"),
			RequireSignature: os.Getenv("BIGWORLD_WEBHOOK_SECRET") != "",
			EnableLogging:    true,
		},
		outboundWebhooks: NewOutboundWebhookManager("world_server_01", "development"),
		history:          NewEventHistory(256),
	}

	if config.Bus != nil {
		if err := server.outboundWebhooks.BindEventBus(config.Bus); err != nil {
			logging.Warn("Не удалось подписать webhook-менеджер на шину: %v", err)
		}
		if err := server.history.Bind(config.Bus); err != nil {
			logging.Warn("Не удалось подписать историю событий на шину: %v", err)
		}
	}

	// Настраиваем маршруты
	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Группа API
	api := rs.router.Group("/api")
	{
		api.POST("/spawn", rs.handleSpawn)
		api.POST("/teleport", rs.handleTeleport)
		api.GET("/position", rs.handleGetPosition)
		api.DELETE("/position", rs.handleClearPosition)

		// Управление исходящими webhook'ами
		api.GET("/webhooks", rs.handleGetOutboundWebhooks)
		api.POST("/webhooks", rs.handleCreateOutboundWebhook)
		api.GET("/webhooks/:id", rs.handleGetOutboundWebhook)
		api.PUT("/webhooks/:id", rs.handleUpdateOutboundWebhook)
		api.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
		api.POST("/webhooks/:id/test", rs.handleTestOutboundWebhook)
		api.GET("/webhooks/events", rs.handleGetWebhookEventTypes)

		// Входящий webhook (без аутентификации, но с валидацией)
		api.POST("/webhook", rs.HandleWebhook)
	}

	// Отладочные ручки: только чтение, состояние стриминга не трогают
	debug := rs.router.Group("/debug")
	{
		debug.GET("/status", rs.handleStatus)
		debug.GET("/chunks", rs.handleChunks)
		debug.GET("/events", rs.handleRecentEvents)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// TeleportRequest представляет запрос телепортации в виртуальную точку.
// Координаты указателями: ноль — валидная координата.
type TeleportRequest struct {
	X *float64 `json:"x" binding:"required"`
	Z *float64 `json:"z" binding:"required"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleSpawn выполняет вход в мир: восстановление сохранённой позиции
// профиля или спавн в центре мира
func (rs *RestServer) handleSpawn(c *gin.Context) {
	res, err := rs.session.Spawn(c.Request.Context())
	if errors.Is(err, spawn.ErrPositioningInFlight) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Позиционирование уже выполняется",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка спавна",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Спавн выполнен",
		Data: map[string]interface{}{
			"position": res.Position,
			"grounded": res.Grounded,
		},
	})
}

// handleTeleport обрабатывает запрос телепортации
func (rs *RestServer) handleTeleport(c *gin.Context) {
	var req TeleportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: ожидаются координаты x и z",
		})
		return
	}

	x, z := *req.X, *req.Z
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(z) || math.IsInf(z, 0) {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Координаты должны быть конечными числами",
		})
		return
	}

	res, err := rs.session.Teleport(c.Request.Context(), x, z)
	if errors.Is(err, spawn.ErrPositioningInFlight) {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Позиционирование уже выполняется",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка телепортации",
		})
		return
	}

	message := "Телепортация выполнена"
	if !res.Grounded {
		message = "Телепортация выполнена, рельеф не найден: страховочная высота"
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: message,
		Data: map[string]interface{}{
			"position": res.Position,
			"grounded": res.Grounded,
		},
	})
}

// handleGetPosition возвращает сохранённую позицию профиля
func (rs *RestServer) handleGetPosition(c *gin.Context) {
	saved, err := rs.session.SavedPosition(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка чтения сохранённой позиции",
		})
		return
	}
	if saved == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Сохранённой позиции нет",
		})
		return
	}

	data := map[string]interface{}{
		"x": saved.X,
		"z": saved.Z,
	}
	if !saved.SavedAt.IsZero() {
		data["saved_at"] = saved.SavedAt.UnixMilli()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сохранённая позиция",
		Data:    data,
	})
}

// handleClearPosition сбрасывает сохранённую позицию профиля
func (rs *RestServer) handleClearPosition(c *gin.Context) {
	if err := rs.session.ClearSavedPosition(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка сброса сохранённой позиции",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сохранённая позиция сброшена",
	})
}

// handleStatus возвращает снимок состояния сессии и процесса
func (rs *RestServer) handleStatus(c *gin.Context) {
	st := rs.session.Status()

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние сессии",
		Data: map[string]interface{}{
			"profile":               st.Profile,
			"player":                st.Player,
			"origin":                st.Origin,
			"positioning_in_flight": st.InFlight,
			"streaming":             st.Streaming,
			"server": map[string]interface{}{
				"uptime":      rs.metrics.GetUptime(),
				"memory_mb":   memoryMB,
				"cpu_percent": cpuPercent,
				"server_time": time.Now().Unix(),
			},
			"memory_details": rs.metrics.GetDetailedMemoryStats(),
		},
	})
}

// handleChunks возвращает список резидентных чанков
func (rs *RestServer) handleChunks(c *gin.Context) {
	chunks := rs.session.Streamer().ResidentChunks()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Резидентные чанки",
		Data: map[string]interface{}{
			"chunks": chunks,
			"total":  len(chunks),
		},
	})
}

// handleRecentEvents возвращает последние события шины
func (rs *RestServer) handleRecentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	eventType := c.Query("type")

	events := rs.history.Recent(limit, eventType)
	items := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		item := map[string]interface{}{
			"id":         ev.ID,
			"event_type": ev.EventType,
			"source":     ev.Source,
			"timestamp":  ev.Timestamp,
		}
		if len(ev.Payload) > 0 {
			item["payload"] = json.RawMessage(ev.Payload)
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Последние события",
		Data: map[string]interface{}{
			"events": items,
			"total":  len(items),
		},
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Router возвращает роутер (для тестов)
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// Start запускает REST сервер и блокируется до его остановки
func (rs *RestServer) Start() error {
	rs.srv = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	logging.Info("🌐 REST API слушает на %s", rs.port)
	err := rs.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop корректно останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.history.Stop()
	rs.outboundWebhooks.Stop()
	if rs.srv == nil {
		return nil
	}
	return rs.srv.Shutdown(ctx)
}
