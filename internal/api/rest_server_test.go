package api

// Тесты REST-поверхности: health, спавн, телепорт с валидацией тела,
// жизненный цикл сохранённой позиции, отладочные ручки, исходящие
// webhook'и с реальной доставкой и входящий webhook с публикацией в шину.

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/bigworld/internal/config"
	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/game"
)

func newTestServer(t *testing.T) *RestServer {
	t.Helper()

	cfg := &config.Config{
		World: config.WorldConfig{Width: 14400, Height: 7200, ChunkSize: 128, Seed: 7},
		Streaming: config.StreamingConfig{
			LoadRadius:      1,
			KeepRadius:      3,
			LoaderWorkers:   2,
			LoadTimeoutMs:   2000,
			TickRate:        50,
			AutosaveSeconds: 60,
		},
		Spawn: config.SpawnConfig{
			SafeHeight:     400,
			FallbackHeight: 80,
			FixedOffset:    2.0,
			SettleDelayMs:  10,
			SnapBelow:      6.0,
			SnapAbove:      0.5,
			DefaultHeight:  100,
		},
		Storage: config.StorageConfig{Backend: "memory"},
		Player:  config.PlayerConfig{ProfileID: "api-test"},
	}

	session, err := game.NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(session.Stop)

	bus := eventbus.NewMemoryBus(64)
	eventbus.Init(bus)
	t.Cleanup(func() { eventbus.Init(nil) })

	return NewRestServer(Config{Port: ":0", Session: session, Bus: bus})
}

func doRequest(t *testing.T, rs *RestServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rs.Router().ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) (GenericResponse, map[string]interface{}) {
	t.Helper()

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := resp.Data.(map[string]interface{})
	return resp, data
}

func TestRestServer_Health(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestRestServer_SpawnAndStatus(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodPost, "/api/spawn", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp, data := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, true, data["grounded"])

	position := data["position"].(map[string]interface{})
	assert.InDelta(t, 7200.0, position["x"].(float64), 1e-9)
	assert.InDelta(t, 3600.0, position["z"].(float64), 1e-9)

	w = doRequest(t, rs, http.MethodGet, "/debug/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, data = decodeResponse(t, w)
	assert.Equal(t, "api-test", data["profile"])
	streaming := data["streaming"].(map[string]interface{})
	assert.Equal(t, true, streaming["initialized"])
}

func TestRestServer_TeleportValidation(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodPost, "/api/teleport", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, rs, http.MethodPost, "/api/teleport", map[string]interface{}{"x": 1000.0})
	assert.Equal(t, http.StatusBadRequest, w.Code, "без z запрос должен быть отклонён")

	// Ноль — валидная координата: указатели в TeleportRequest
	w = doRequest(t, rs, http.MethodPost, "/api/teleport", map[string]interface{}{"x": 0.0, "z": 0.0})
	require.Equal(t, http.StatusOK, w.Code)

	_, data := decodeResponse(t, w)
	position := data["position"].(map[string]interface{})
	assert.InDelta(t, 0.0, position["x"].(float64), 1e-9)
}

func TestRestServer_TeleportAndSavedPosition(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodPost, "/api/teleport", map[string]interface{}{"x": 1000.0, "z": 500.0})
	require.Equal(t, http.StatusOK, w.Code)

	resp, data := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, true, data["grounded"])

	w = doRequest(t, rs, http.MethodGet, "/api/position", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, data = decodeResponse(t, w)
	assert.InDelta(t, 1000.0/14400.0, data["x"].(float64), 1e-9)
	assert.InDelta(t, 500.0/7200.0, data["z"].(float64), 1e-9)
	assert.NotNil(t, data["saved_at"])
}

func TestRestServer_PositionLifecycle(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodGet, "/api/position", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "до первого входа позиции нет")

	w = doRequest(t, rs, http.MethodPost, "/api/spawn", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, rs, http.MethodGet, "/api/position", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data := decodeResponse(t, w)
	assert.InDelta(t, 0.5, data["x"].(float64), 1e-9)

	w = doRequest(t, rs, http.MethodDelete, "/api/position", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, rs, http.MethodGet, "/api/position", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestServer_OutboundWebhookLifecycle(t *testing.T) {
	rs := newTestServer(t)

	// Приёмник с записью полученных событий
	var mu sync.Mutex
	received := make([]string, 0)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Event-Type"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	w := doRequest(t, rs, http.MethodPost, "/api/webhooks", map[string]interface{}{
		"name":   "test-hook",
		"url":    receiver.URL,
		"events": []string{"*"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	_, data := decodeResponse(t, w)
	_ = data

	w = doRequest(t, rs, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data = decodeResponse(t, w)
	assert.Equal(t, float64(1), data["total"])

	// Тестовое событие должно дойти до приёмника
	w = doRequest(t, rs, http.MethodPost, "/api/webhooks/1/test", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range received {
			if ev == "webhook.test" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "тестовое событие должно быть доставлено приёмнику")

	w = doRequest(t, rs, http.MethodDelete, "/api/webhooks/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, rs, http.MethodGet, "/api/webhooks/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestServer_InboundWebhookPublishesToBus(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodPost, "/api/webhook", map[string]interface{}{
		"event_type": "ops.ping",
		"data":       map[string]interface{}{"note": "hello"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	// История подписана на шину: событие должно появиться в /debug/events
	assert.Eventually(t, func() bool {
		w := doRequest(t, rs, http.MethodGet, "/debug/events?type=ops.ping", nil)
		if w.Code != http.StatusOK {
			return false
		}
		_, data := decodeResponse(t, w)
		total, _ := data["total"].(float64)
		return total >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRestServer_RecentEventsAfterSpawn(t *testing.T) {
	rs := newTestServer(t)

	w := doRequest(t, rs, http.MethodPost, "/api/spawn", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Спавн публикует origin_shift и teleport
	assert.Eventually(t, func() bool {
		w := doRequest(t, rs, http.MethodGet, "/debug/events?type=world.teleport", nil)
		if w.Code != http.StatusOK {
			return false
		}
		_, data := decodeResponse(t, w)
		total, _ := data["total"].(float64)
		return total >= 1
	}, 3*time.Second, 20*time.Millisecond)
}
