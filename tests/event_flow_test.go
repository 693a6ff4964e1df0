package tests

// Интеграция шины событий: телепорт сессии порождает envelope'ы
// world.origin_shift, world.teleport и world.chunk_ready в глобальной шине.

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/bigworld/internal/config"
	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/game"
	"github.com/annel0/bigworld/internal/world"
)

type eventRecorder struct {
	mu     sync.Mutex
	byType map[string][]*eventbus.Envelope
}

func (r *eventRecorder) handle(_ context.Context, ev *eventbus.Envelope) {
	r.mu.Lock()
	r.byType[ev.EventType] = append(r.byType[ev.EventType], ev)
	r.mu.Unlock()
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byType[eventType])
}

func (r *eventRecorder) last(eventType string) *eventbus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.byType[eventType]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func TestTeleportPublishesWorldEvents(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	eventbus.Init(bus)
	defer eventbus.Init(nil)

	rec := &eventRecorder{byType: make(map[string][]*eventbus.Envelope)}
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{Sources: []string{"world"}}, rec.handle)
	require.NoError(t, err)

	cfg := &config.Config{
		World:     config.WorldConfig{Width: 14400, Height: 7200, ChunkSize: 128, Seed: 7},
		Streaming: config.StreamingConfig{LoadRadius: 1, KeepRadius: 3, LoaderWorkers: 2, TickRate: 50},
		Spawn:     config.SpawnConfig{SettleDelayMs: 10},
		Storage:   config.StorageConfig{Backend: "memory"},
		Player:    config.PlayerConfig{ProfileID: "events"},
	}

	s, err := game.NewSession(cfg)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = s.Spawn(ctx)
	require.NoError(t, err)

	res, err := s.Teleport(ctx, 7200, 3600)
	require.NoError(t, err)
	require.True(t, res.Grounded)

	// Шина асинхронная: события доезжают через dispatch-горутину
	require.Eventually(t, func() bool {
		return rec.count(world.EventTeleport) >= 2 && rec.count(world.EventOriginShift) >= 2
	}, 5*time.Second, 10*time.Millisecond, "спавн и телепорт публикуют по событию")

	require.Eventually(t, func() bool {
		return rec.count(world.EventChunkReady) >= 1
	}, 5*time.Second, 10*time.Millisecond, "центральный чанк публикует chunk_ready")

	tp := rec.last(world.EventTeleport)
	require.NotNil(t, tp)
	assert.Equal(t, "world", tp.Source)

	var payload world.TeleportPayload
	require.NoError(t, json.Unmarshal(tp.Payload, &payload))
	assert.True(t, payload.Success)
	assert.InDelta(t, 7200, payload.Target.X, 0.001)
	assert.InDelta(t, 3600, payload.Target.Z, 0.001)

	ready := rec.last(world.EventChunkReady)
	require.NotNil(t, ready)
	var chunkPayload world.ChunkEventPayload
	require.NoError(t, json.Unmarshal(ready.Payload, &chunkPayload))
	assert.NotEmpty(t, chunkPayload.Chunk)
}
