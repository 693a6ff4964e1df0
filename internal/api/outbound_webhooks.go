package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/world"
)

// OutboundWebhook представляет исходящий webhook
type OutboundWebhook struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name" binding:"required"`
	URL          string     `json:"url" binding:"required"`
	Secret       string     `json:"secret,omitempty"`
	Events       []string   `json:"events" binding:"required"` // События, на которые подписан
	Active       bool       `json:"active"`
	Timeout      int        `json:"timeout"` // Таймаут в секундах
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	FailureCount int        `json:"failure_count"`
}

// OutboundWebhookEvent представляет событие для отправки
type OutboundWebhookEvent struct {
	EventType   string                 `json:"event_type"`
	Timestamp   int64                  `json:"timestamp"`
	ServerID    string                 `json:"server_id"`
	Data        map[string]interface{} `json:"data"`
	Source      string                 `json:"source"`
	Environment string                 `json:"environment"`
}

// OutboundWebhookManager рассылает события мира внешним подписчикам.
// Источник событий — либо прямые вызовы SendEvent, либо подписка на шину
// событий через BindEventBus.
type OutboundWebhookManager struct {
	webhooks    map[uint64]*OutboundWebhook
	eventQueue  chan OutboundWebhookEvent
	mu          sync.RWMutex
	nextID      uint64
	httpClient  *http.Client
	serverID    string
	environment string
	busSub      eventbus.Subscription
	quit        chan struct{}
}

// NewOutboundWebhookManager создает новый менеджер исходящих webhook'ов
func NewOutboundWebhookManager(serverID, environment string) *OutboundWebhookManager {
	manager := &OutboundWebhookManager{
		webhooks:    make(map[uint64]*OutboundWebhook),
		eventQueue:  make(chan OutboundWebhookEvent, 1000), // Буфер для событий
		nextID:      1,
		serverID:    serverID,
		environment: environment,
		quit:        make(chan struct{}),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	// Запускаем воркера для обработки событий
	go manager.eventWorker()

	return manager
}

// BindEventBus подписывает менеджер на шину событий: каждое событие мира
// уходит всем активным webhook'ам, подписанным на его тип.
func (owm *OutboundWebhookManager) BindEventBus(bus eventbus.EventBus) error {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		data := map[string]interface{}{}
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &data); err != nil {
				data = map[string]interface{}{"raw": string(ev.Payload)}
			}
		}
		data["event_id"] = ev.ID
		owm.SendEvent(ev.EventType, data)
	})
	if err != nil {
		return err
	}

	owm.busSub = sub
	logging.Info("📤 Webhook-менеджер подписан на шину событий")
	return nil
}

// Stop отписывается от шины и останавливает воркера
func (owm *OutboundWebhookManager) Stop() {
	if owm.busSub != nil {
		owm.busSub.Unsubscribe()
	}
	close(owm.quit)
}

// AddWebhook добавляет новый webhook
func (owm *OutboundWebhookManager) AddWebhook(webhook OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook.ID = owm.nextID
	owm.nextID++
	webhook.CreatedAt = time.Now()
	webhook.Active = true

	if webhook.Timeout == 0 {
		webhook.Timeout = 30
	}
	if webhook.RetryCount == 0 {
		webhook.RetryCount = 3
	}

	owm.webhooks[webhook.ID] = &webhook
	return &webhook
}

// GetWebhooks возвращает список всех webhook'ов
func (owm *OutboundWebhookManager) GetWebhooks() []*OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhooks := make([]*OutboundWebhook, 0, len(owm.webhooks))
	for _, webhook := range owm.webhooks {
		webhooks = append(webhooks, webhook)
	}
	return webhooks
}

// GetWebhook возвращает webhook по ID
func (owm *OutboundWebhookManager) GetWebhook(id uint64) *OutboundWebhook {
	owm.mu.RLock()
	defer owm.mu.RUnlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return nil
	}
	return webhook
}

// UpdateWebhook обновляет webhook
func (owm *OutboundWebhookManager) UpdateWebhook(id uint64, updates OutboundWebhook) *OutboundWebhook {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	webhook, exists := owm.webhooks[id]
	if !exists {
		return nil
	}

	// Обновляем поля
	if updates.Name != "" {
		webhook.Name = updates.Name
	}
	if updates.URL != "" {
		webhook.URL = updates.URL
	}
	if updates.Secret != "" {
		webhook.Secret = updates.Secret
	}
	if len(updates.Events) > 0 {
		webhook.Events = updates.Events
	}
	if updates.Timeout > 0 {
		webhook.Timeout = updates.Timeout
	}
	if updates.RetryCount >= 0 {
		webhook.RetryCount = updates.RetryCount
	}
	webhook.Active = updates.Active

	return webhook
}

// DeleteWebhook удаляет webhook
func (owm *OutboundWebhookManager) DeleteWebhook(id uint64) bool {
	owm.mu.Lock()
	defer owm.mu.Unlock()

	_, exists := owm.webhooks[id]
	if !exists {
		return false
	}

	delete(owm.webhooks, id)
	return true
}

// SendEvent отправляет событие всем подписанным webhook'ам
func (owm *OutboundWebhookManager) SendEvent(eventType string, data map[string]interface{}) {
	event := OutboundWebhookEvent{
		EventType:   eventType,
		Timestamp:   time.Now().Unix(),
		ServerID:    owm.serverID,
		Data:        data,
		Source:      "world_server",
		Environment: owm.environment,
	}

	// Добавляем событие в очередь
	select {
	case owm.eventQueue <- event:
	default:
		logging.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", eventType)
	}
}

// eventWorker обрабатывает события из очереди
func (owm *OutboundWebhookManager) eventWorker() {
	for {
		select {
		case <-owm.quit:
			return
		case event := <-owm.eventQueue:
			owm.processEvent(event)
		}
	}
}

// processEvent обрабатывает одно событие
func (owm *OutboundWebhookManager) processEvent(event OutboundWebhookEvent) {
	owm.mu.RLock()
	webhooks := make([]*OutboundWebhook, 0)

	// Находим webhook'и, подписанные на это событие
	for _, webhook := range owm.webhooks {
		if webhook.Active && owm.isSubscribedToEvent(webhook, event.EventType) {
			webhooks = append(webhooks, webhook)
		}
	}
	owm.mu.RUnlock()

	// Отправляем событие каждому подписанному webhook'у
	for _, webhook := range webhooks {
		go owm.sendToWebhook(webhook, event)
	}
}

// isSubscribedToEvent проверяет, подписан ли webhook на событие
func (owm *OutboundWebhookManager) isSubscribedToEvent(webhook *OutboundWebhook, eventType string) bool {
	for _, subscribedEvent := range webhook.Events {
		if subscribedEvent == eventType || subscribedEvent == "*" {
			return true
		}
	}
	return false
}

// sendToWebhook отправляет событие конкретному webhook'у.
// Запрос пересоздаётся на каждой попытке: тело запроса одноразовое.
func (owm *OutboundWebhookManager) sendToWebhook(webhook *OutboundWebhook, event OutboundWebhookEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		logging.Error("❌ Ошибка маршалинга события для webhook %s: %v", webhook.Name, err)
		return
	}

	var signature string
	if webhook.Secret != "" {
		signature = owm.generateSignature(jsonData, webhook.Secret)
	}

	success := false
	for attempt := 0; attempt <= webhook.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(webhook.Timeout)*time.Second)
		req, err := http.NewRequestWithContext(ctx, "POST", webhook.URL, bytes.NewReader(jsonData))
		if err != nil {
			cancel()
			logging.Error("❌ Ошибка создания запроса для webhook %s: %v", webhook.Name, err)
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "BigWorld-Server/1.0")
		req.Header.Set("X-Event-Type", event.EventType)
		req.Header.Set("X-Server-ID", event.ServerID)
		if signature != "" {
			req.Header.Set("X-Webhook-Signature", signature)
		}

		resp, err := owm.httpClient.Do(req)
		cancel()
		if err != nil {
			logging.Warn("⚠️ Попытка %d/%d для webhook %s: %v", attempt+1, webhook.RetryCount+1, webhook.Name, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			success = true
			logging.Debug("✅ Событие %s отправлено в webhook %s", event.EventType, webhook.Name)
			resp.Body.Close()
			break
		}

		logging.Warn("⚠️ Webhook %s вернул статус %d на попытке %d", webhook.Name, resp.StatusCode, attempt+1)
		resp.Body.Close()
	}

	// Обновляем статистику
	owm.mu.Lock()
	now := time.Now()
	webhook.LastUsed = &now
	if !success {
		webhook.FailureCount++
	}
	owm.mu.Unlock()
}

// generateSignature генерирует HMAC подпись
func (owm *OutboundWebhookManager) generateSignature(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetEventTypes возвращает доступные типы событий
func (owm *OutboundWebhookManager) GetEventTypes() []string {
	return []string{
		world.EventChunkReady,
		world.EventChunkFailed,
		world.EventChunkEvicted,
		world.EventOriginShift,
		world.EventTeleport,
		"server.started",
		"server.stopped",
	}
}
