package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/bigworld/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Служебные маршруты (health-пробы, скрейпы метрик) не логируются,
// чтобы не засорять журнал.

type RequestLogger struct {
	quiet map[string]bool
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		quiet: map[string]bool{
			"/health":  true,
			"/metrics": true,
		},
	}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if rl.quiet[path] {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		logging.Info("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, clientIP, traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			logging.Error("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
		} else if status >= 400 {
			logging.Warn("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
		} else {
			logging.Info("[HTTP] ◀ %s %s %d %s trace=%s", method, path, status, latency, traceID)
		}
	}
}
