package terrain

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/annel0/bigworld/internal/vec"
	"github.com/stretchr/testify/assert"
)

// countingProvider считает обращения к вложенному провайдеру
type countingProvider struct {
	inner Provider
	calls int32
}

func (cp *countingProvider) BuildHeightmap(ctx context.Context, coord vec.Vec2) (*Heightmap, error) {
	atomic.AddInt32(&cp.calls, 1)
	return cp.inner.BuildHeightmap(ctx, coord)
}

func TestCachedProvider_HitSkipsGeneration(t *testing.T) {
	// Тест дискового кэша: повторный запрос не генерирует карту заново
	counting := &countingProvider{inner: NewPerlinProvider(12345, 128)}

	cached, err := NewCachedProvider(counting, t.TempDir(), 12345)
	assert.NoError(t, err)
	defer cached.Close()

	coord := vec.Vec2{X: 56, Y: 28}

	first, err := cached.BuildHeightmap(context.Background(), coord)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.calls))

	second, err := cached.BuildHeightmap(context.Background(), coord)
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.calls), "вторая загрузка должна идти из кэша")

	// Кэшированная карта идентична сгенерированной
	assert.Equal(t, first.Coord, second.Coord)
	assert.Equal(t, first.Resolution, second.Resolution)
	assert.Equal(t, first.Heights, second.Heights)
}

func TestCachedProvider_DifferentCoordsMiss(t *testing.T) {
	// Тест промаха кэша для разных чанков
	counting := &countingProvider{inner: NewPerlinProvider(12345, 128)}

	cached, err := NewCachedProvider(counting, t.TempDir(), 12345)
	assert.NoError(t, err)
	defer cached.Close()

	_, err = cached.BuildHeightmap(context.Background(), vec.Vec2{X: 0, Y: 0})
	assert.NoError(t, err)
	_, err = cached.BuildHeightmap(context.Background(), vec.Vec2{X: 1, Y: 0})
	assert.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&counting.calls))
}

func TestCachedProvider_CloseIdempotent(t *testing.T) {
	// Тест повторного закрытия: ресурсы освобождаются один раз,
	// второй вызов не трогает уже закрытые компрессоры и базу
	cached, err := NewCachedProvider(NewPerlinProvider(12345, 128), t.TempDir(), 12345)
	assert.NoError(t, err)

	// Прогреваем кэш, чтобы закрытие пришлось на использованный компрессор
	_, err = cached.BuildHeightmap(context.Background(), vec.Vec2{X: 0, Y: 0})
	assert.NoError(t, err)

	assert.NoError(t, cached.Close())
	assert.NoError(t, cached.Close(), "повторное закрытие не ошибка")
}

func TestCachedProvider_ClosedFallsThrough(t *testing.T) {
	// Тест закрытого кэша: загрузка работает напрямую через провайдер
	counting := &countingProvider{inner: NewPerlinProvider(12345, 128)}

	cached, err := NewCachedProvider(counting, t.TempDir(), 12345)
	assert.NoError(t, err)
	assert.NoError(t, cached.Close())

	hm, err := cached.BuildHeightmap(context.Background(), vec.Vec2{X: 2, Y: 2})
	assert.NoError(t, err)
	assert.NotNil(t, hm)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.calls))
}
