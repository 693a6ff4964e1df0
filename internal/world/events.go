package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/google/uuid"
)

// Типы событий мира
const (
	EventChunkReady   = "world.chunk_ready"
	EventChunkFailed  = "world.chunk_failed"
	EventChunkEvicted = "world.chunk_evicted"
	EventOriginShift  = "world.origin_shift"
	EventTeleport     = "world.teleport"
)

// ChunkEventPayload полезная нагрузка событий чанков
type ChunkEventPayload struct {
	Chunk      string   `json:"chunk"`
	Coord      vec.Vec2 `json:"coord"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// OriginShiftPayload полезная нагрузка события переноса origin
type OriginShiftPayload struct {
	Origin  vec.Vec3 `json:"origin"`
	Cleared int      `json:"cleared"`
}

// TeleportPayload полезная нагрузка события телепортации
type TeleportPayload struct {
	Target  vec.Vec3 `json:"target"`
	Height  float64  `json:"height"`
	Success bool     `json:"success"`
}

// publishChunkEvent публикует событие жизненного цикла чанка в глобальную шину
func publishChunkEvent(eventType string, c vec.Vec2, dur time.Duration, loadErr error) {
	payload := ChunkEventPayload{
		Chunk:      ChunkKey(c),
		Coord:      c,
		DurationMs: dur.Milliseconds(),
	}
	if loadErr != nil {
		payload.Error = loadErr.Error()
	}
	PublishEvent(eventType, payload)
}

// PublishEvent сериализует полезную нагрузку и публикует её в глобальную
// шину. Потеря события при переполненной шине допустима: события мира
// нужны для наблюдаемости, а не для корректности.
func PublishEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Warn("Ошибка сериализации события %s: %v", eventType, err)
		return
	}

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "world",
		EventType: eventType,
		Version:   1,
		Priority:  3,
		Payload:   data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := eventbus.Publish(ctx, env); err != nil {
		logging.Warn("Ошибка публикации события %s: %v", eventType, err)
	}
}
