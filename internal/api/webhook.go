package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/logging"
)

// WebhookEvent представляет входящее webhook событие
type WebhookEvent struct {
	EventType string                 `json:"event_type" binding:"required"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Source    string                 `json:"source,omitempty"`
}

// WebhookConfig конфигурация входящего webhook
type WebhookConfig struct {
	SecretKey        string
	RequireSignature bool
	EnableLogging    bool
}

// HandleWebhook принимает событие от внешней системы и публикует его в шину
// событий мира. Подпись проверяется по сырому телу запроса.
func (rs *RestServer) HandleWebhook(c *gin.Context) {
	// Проверяем Content-Type
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Требуется Content-Type: application/json",
		})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Не удалось прочитать тело запроса",
		})
		return
	}

	// Проверяем подпись (если включена)
	if rs.webhookConfig.RequireSignature {
		signature := c.GetHeader("X-Webhook-Signature")
		if !rs.verifyWebhookSignature(body, signature) {
			c.JSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Неверная подпись",
			})
			return
		}
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат события: требуется event_type",
		})
		return
	}

	// Устанавливаем timestamp если не указан
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	source := event.Source
	if source == "" {
		source = "external"
	}

	payload, err := json.Marshal(event.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверные данные события",
		})
		return
	}

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: event.EventType,
		Version:   1,
		Priority:  5,
		Payload:   payload,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if err := eventbus.Publish(ctx, env); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось опубликовать событие",
		})
		return
	}

	if rs.webhookConfig.EnableLogging {
		logging.Info("📧 Webhook событие %s от %s опубликовано в шину", event.EventType, c.ClientIP())
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обработан",
		Data: map[string]interface{}{
			"event_id":     env.ID,
			"processed_at": time.Now().Unix(),
		},
	})
}

// verifyWebhookSignature проверяет подпись webhook
func (rs *RestServer) verifyWebhookSignature(body []byte, signature string) bool {
	if rs.webhookConfig.SecretKey == "" {
		return true // Если секрет не настроен, пропускаем проверку
	}

	// Создаем HMAC подпись
	mac := hmac.New(sha256.New, []byte(rs.webhookConfig.SecretKey))
	mac.Write(body)
	expectedSignature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	// Сравниваем подписи
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// === ОБРАБОТЧИКИ ИСХОДЯЩИХ WEBHOOK'ОВ ===

// handleGetOutboundWebhooks возвращает список исходящих webhook'ов
func (rs *RestServer) handleGetOutboundWebhooks(c *gin.Context) {
	webhooks := rs.outboundWebhooks.GetWebhooks()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data: map[string]interface{}{
			"webhooks": webhooks,
			"total":    len(webhooks),
		},
	})
}

// handleCreateOutboundWebhook создает новый исходящий webhook
func (rs *RestServer) handleCreateOutboundWebhook(c *gin.Context) {
	var webhook OutboundWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат webhook'а: " + err.Error(),
		})
		return
	}

	// Валидация
	if webhook.Name == "" || webhook.URL == "" || len(webhook.Events) == 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Обязательные поля: name, url, events",
		})
		return
	}

	createdWebhook := rs.outboundWebhooks.AddWebhook(webhook)

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан успешно",
		Data:    createdWebhook,
	})
}

// handleGetOutboundWebhook возвращает webhook по ID
func (rs *RestServer) handleGetOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	webhook := rs.outboundWebhooks.GetWebhook(id)
	if webhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook найден",
		Data:    webhook,
	})
}

// handleUpdateOutboundWebhook обновляет webhook
func (rs *RestServer) handleUpdateOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	var updates OutboundWebhook
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат обновлений: " + err.Error(),
		})
		return
	}

	updatedWebhook := rs.outboundWebhooks.UpdateWebhook(id, updates)
	if updatedWebhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook обновлен успешно",
		Data:    updatedWebhook,
	})
}

// handleDeleteOutboundWebhook удаляет webhook
func (rs *RestServer) handleDeleteOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	if !rs.outboundWebhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удален успешно",
	})
}

// handleTestOutboundWebhook тестирует webhook отправкой тестового события
func (rs *RestServer) handleTestOutboundWebhook(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}

	webhook := rs.outboundWebhooks.GetWebhook(id)
	if webhook == nil {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}

	// Отправляем тестовое событие
	rs.outboundWebhooks.SendEvent("webhook.test", map[string]interface{}{
		"webhook_id":   id,
		"webhook_name": webhook.Name,
		"test_time":    time.Now().Unix(),
		"message":      "Это тестовое сообщение от сервера мира",
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Тестовое событие отправлено",
		Data: map[string]interface{}{
			"webhook_id": id,
			"sent_at":    time.Now().Unix(),
		},
	})
}

// handleGetWebhookEventTypes возвращает доступные типы событий
func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	eventTypes := rs.outboundWebhooks.GetEventTypes()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий получены",
		Data: map[string]interface{}{
			"event_types": eventTypes,
			"total":       len(eventTypes),
		},
	})
}
