package world

import (
	"errors"
	"testing"

	"github.com/annel0/bigworld/internal/terrain"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/stretchr/testify/assert"
)

// flatHeightmap строит плоскую карту высот для тестов
func flatHeightmap(coord vec.Vec2, chunkSize, height float64) *terrain.Heightmap {
	return &terrain.Heightmap{
		Coord:      coord,
		ChunkSize:  chunkSize,
		Resolution: 2,
		Heights:    []float64{height, height, height, height},
	}
}

func TestChunk_Lifecycle(t *testing.T) {
	// Тест переходов состояний чанка
	c := NewChunk(vec.Vec2{X: 56, Y: 28})

	assert.Equal(t, StateRequested, c.State())
	assert.False(t, c.IsReady())

	// Только один claim успешен
	assert.True(t, c.markLoading())
	assert.False(t, c.markLoading(), "повторный claim должен проваливаться")
	assert.Equal(t, StateLoading, c.State())

	c.completeReady(flatHeightmap(c.Coord, 128, 12.4), vec.Vec3{X: 7200, Z: 3600})

	assert.True(t, c.IsReady())
	assert.Equal(t, vec.Vec3{X: 7200, Z: 3600}, c.BuiltOrigin())

	hm, ok := c.Heights()
	assert.True(t, ok)
	assert.NotNil(t, hm)

	// Канал done закрыт
	select {
	case <-c.Done():
	default:
		t.Fatal("done должен быть закрыт после завершения загрузки")
	}
}

func TestChunk_Failed(t *testing.T) {
	// Тест провала загрузки
	c := NewChunk(vec.Vec2{X: 1, Y: 1})
	assert.True(t, c.markLoading())

	loadErr := errors.New("генератор недоступен")
	c.completeFailed(loadErr)

	assert.Equal(t, StateFailed, c.State())
	assert.False(t, c.IsReady())
	assert.ErrorIs(t, c.Err(), loadErr)

	_, ok := c.Heights()
	assert.False(t, ok, "у провального чанка нет карты высот")

	select {
	case <-c.Done():
	default:
		t.Fatal("done должен быть закрыт и при провале")
	}
}

func TestChunk_RaycastRequiresReady(t *testing.T) {
	// Тест raycast по не готовому чанку
	c := NewChunk(vec.Vec2{X: 0, Y: 0})

	_, ok := c.RaycastDown(64, 64, 400)
	assert.False(t, ok, "raycast по не готовому чанку должен промахиваться")

	c.markLoading()
	c.completeReady(flatHeightmap(c.Coord, 128, 12.4), vec.Vec3{})

	hit, ok := c.RaycastDown(64, 64, 400)
	assert.True(t, ok)
	assert.InDelta(t, 12.4, hit, 1e-9)

	// Колонка из соседнего чанка — промах
	_, ok = c.RaycastDown(300, 64, 400)
	assert.False(t, ok)
}

func TestChunkState_String(t *testing.T) {
	assert.Equal(t, "REQUESTED", StateRequested.String())
	assert.Equal(t, "LOADING", StateLoading.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "FAILED", StateFailed.String())
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "56:28", ChunkKey(vec.Vec2{X: 56, Y: 28}))
	assert.Equal(t, "-3:7", ChunkKey(vec.Vec2{X: -3, Y: 7}))
}
