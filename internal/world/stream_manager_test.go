package world

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/bigworld/internal/coord"
	"github.com/annel0/bigworld/internal/terrain"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/stretchr/testify/assert"
)

// stubProvider управляемый генератор рельефа для тестов
type stubProvider struct {
	mu    sync.Mutex
	calls []vec.Vec2

	built   int32
	gate    chan struct{} // если не nil, построение ждёт закрытия
	block   bool          // блокироваться до отмены контекста
	failAll bool
}

func (p *stubProvider) BuildHeightmap(ctx context.Context, c vec.Vec2) (*terrain.Heightmap, error) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.failAll {
		return nil, errors.New("генератор недоступен")
	}

	atomic.AddInt32(&p.built, 1)
	return flatHeightmap(c, 128, 12.4), nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *stubProvider) callOrder() []vec.Vec2 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]vec.Vec2, len(p.calls))
	copy(out, p.calls)
	return out
}

func testSpace() *coord.Space {
	return coord.NewSpace(14400, 7200, 128)
}

func testConfig() StreamConfig {
	return StreamConfig{
		LoadRadius:  2,
		KeepRadius:  4,
		Workers:     1,
		LoadTimeout: 2 * time.Second,
		QueueSize:   64,
	}
}

func TestStreamManager_RequestDedup(t *testing.T) {
	// Тест дедупликации: повторный запрос не создаёт второй загрузки
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 56, Y: 28}
	first := sm.RequestChunk(c)
	second := sm.RequestChunk(c)

	assert.Same(t, first, second, "повторный запрос должен возвращать тот же чанк")
	assert.Equal(t, 1, sm.ResidentCount())

	assert.Eventually(t, func() bool { return sm.IsChunkReady(c) },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, provider.callCount(), "генерация должна выполниться один раз")
}

func TestStreamManager_LoadChunkAwait(t *testing.T) {
	// Тест внеочередной загрузки с ожиданием
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 56, Y: 28}
	chunk, err := sm.LoadChunkAwait(context.Background(), c)

	assert.NoError(t, err)
	assert.True(t, chunk.IsReady())
	assert.True(t, sm.IsChunkReady(c))

	hit, ok := chunk.RaycastDown(7232, 3648, 400)
	assert.True(t, ok)
	assert.InDelta(t, 12.4, hit, 1e-9)

	// Повторное ожидание готового чанка возвращается сразу
	again, err := sm.LoadChunkAwait(context.Background(), c)
	assert.NoError(t, err)
	assert.Same(t, chunk, again)
	assert.Equal(t, 1, provider.callCount())
}

func TestStreamManager_LoadChunkAwaitOutOfBounds(t *testing.T) {
	// Тест координаты вне сетки мира: внеочередная загрузка отклоняется,
	// чанк не создаётся и не становится резидентным
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	chunk, err := sm.LoadChunkAwait(context.Background(), vec.Vec2{X: -5, Y: 999})
	assert.Nil(t, chunk, "вне сетки чанк не возвращается")
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, 0, sm.ResidentCount(), "координата вне сетки не должна становиться резидентной")
	assert.Equal(t, 0, provider.callCount(), "генерация не должна запускаться")

	// Сетка 14400x7200 при чанке 128: валидны X 0..112, Y 0..56
	chunk, err = sm.LoadChunkAwait(context.Background(), vec.Vec2{X: 112, Y: 56})
	assert.NoError(t, err)
	assert.True(t, chunk.IsReady(), "крайний чанк сетки загружается")

	_, err = sm.LoadChunkAwait(context.Background(), vec.Vec2{X: 113, Y: 56})
	assert.ErrorIs(t, err, ErrOutOfBounds, "за крайним чанком сетка заканчивается")
	assert.Equal(t, 1, sm.ResidentCount())
}

func TestStreamManager_AwaitJoinsInFlight(t *testing.T) {
	// Тест ожидания загрузки, уже взятой воркером
	gate := make(chan struct{})
	provider := &stubProvider{gate: gate}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 3, Y: 3}
	requested := sm.RequestChunk(c)
	assert.NotNil(t, requested)

	// Ждём, пока воркер возьмёт задание
	assert.Eventually(t, func() bool { return requested.State() == StateLoading },
		2*time.Second, 5*time.Millisecond)

	done := make(chan *Chunk)
	go func() {
		chunk, err := sm.LoadChunkAwait(context.Background(), c)
		assert.NoError(t, err)
		done <- chunk
	}()

	close(gate)

	awaited := <-done
	assert.Same(t, requested, awaited, "ожидание должно присоединяться к загрузке в полёте")
	assert.Equal(t, 1, provider.callCount())
}

func TestStreamManager_LoadFailure(t *testing.T) {
	// Тест провала генерации
	provider := &stubProvider{failAll: true}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 5, Y: 5}
	chunk, err := sm.LoadChunkAwait(context.Background(), c)

	assert.Error(t, err)
	assert.Equal(t, StateFailed, chunk.State())
	assert.False(t, sm.IsChunkReady(c))

	// Провальный чанк остаётся резидентным до выгрузки
	_, resident := sm.ChunkAt(c)
	assert.True(t, resident)
}

func TestStreamManager_LoadTimeout(t *testing.T) {
	// Тест таймаута загрузки: зависшая генерация переводит чанк в FAILED
	provider := &stubProvider{block: true}
	cfg := testConfig()
	cfg.LoadTimeout = 50 * time.Millisecond
	sm := NewStreamManager(testSpace(), provider, cfg)
	defer sm.Shutdown()

	c := vec.Vec2{X: 7, Y: 7}
	chunk, err := sm.LoadChunkAwait(context.Background(), c)

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, chunk.State())
}

func TestStreamManager_UpdateChunksLoadsRegion(t *testing.T) {
	// Тест загрузки окружения 5x5 в порядке возрастания манхэттенского
	// расстояния от центра
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	// Центр мира 14400x7200 попадает в чанк (56, 28)
	player := vec.Vec3{X: 7200, Y: 100, Z: 3600}
	sm.UpdateChunks(player)

	assert.Equal(t, 25, sm.ResidentCount(), "вокруг игрока должно быть запрошено 5x5 чанков")

	assert.Eventually(t, func() bool { return sm.Status().Ready == 25 },
		3*time.Second, 10*time.Millisecond)

	// С одним воркером порядок генерации равен порядку запросов
	center := vec.Vec2{X: 56, Y: 28}
	order := provider.callOrder()
	assert.Len(t, order, 25)
	assert.Equal(t, center, order[0], "центральный чанк запрашивается первым")

	prev := 0
	for _, c := range order {
		d := c.ManhattanTo(center)
		assert.GreaterOrEqual(t, d, prev, "расстояние не должно убывать в порядке запросов")
		prev = d
	}
}

func TestStreamManager_BorderClipsRegion(t *testing.T) {
	// Тест у границы мира: чанки вне сетки не запрашиваются
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	sm.UpdateChunks(vec.Vec3{X: 10, Y: 50, Z: 10}) // чанк (0,0)

	assert.Equal(t, 9, sm.ResidentCount(), "у угла мира остаётся квадрат 3x3")
}

func TestStreamManager_Hysteresis(t *testing.T) {
	// Тест гистерезиса: чанки между радиусом загрузки и удержания не
	// выгружаются и не перезапрашиваются
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	at := func(cx, cz int) vec.Vec3 {
		return vec.Vec3{X: float64(cx)*128 + 64, Y: 100, Z: float64(cz)*128 + 64}
	}

	sm.UpdateChunks(at(10, 10))
	assert.Eventually(t, func() bool { return sm.Status().Ready == 25 },
		3*time.Second, 10*time.Millisecond)

	// Сдвиг на 3 чанка вправо
	sm.UpdateChunks(at(13, 10))

	// Столбец x=8 ушёл за радиус удержания
	_, resident := sm.ChunkAt(vec.Vec2{X: 8, Y: 10})
	assert.False(t, resident, "чанк за радиусом удержания должен выгружаться")

	// Чанк на расстоянии 4 — вне радиуса загрузки, но в радиусе удержания
	_, resident = sm.ChunkAt(vec.Vec2{X: 9, Y: 8})
	assert.True(t, resident, "чанк в зоне гистерезиса должен оставаться")

	// Старые 20 + новый столбец 15
	assert.Equal(t, 35, sm.ResidentCount())
}

func TestStreamManager_TeleportLockSuppressesUpdates(t *testing.T) {
	// Тест блокировки: во время телепортации тики стриминга игнорируются
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	sm.SetTeleportLock(true)
	assert.True(t, sm.TeleportLocked())

	sm.UpdateChunks(vec.Vec3{X: 7200, Y: 100, Z: 3600})
	assert.Equal(t, 0, sm.ResidentCount(), "под блокировкой запросы не создаются")

	sm.SetTeleportLock(false)
	sm.UpdateChunks(vec.Vec3{X: 7200, Y: 100, Z: 3600})
	assert.Equal(t, 25, sm.ResidentCount())
}

func TestStreamManager_ClearAllDiscardsInFlight(t *testing.T) {
	// Тест обесценивания загрузок в полёте при массовой очистке
	gate := make(chan struct{})
	provider := &stubProvider{gate: gate}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 56, Y: 28}
	sm.RequestChunk(c)

	// Ждём входа воркера в генерацию
	assert.Eventually(t, func() bool { return provider.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	cleared := sm.ClearAll()
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 0, sm.ResidentCount())

	close(gate)

	// Завершившаяся загрузка не должна воскресить чанк
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, sm.ResidentCount())
	assert.False(t, sm.IsChunkReady(c))
}

func TestStreamManager_EvictAndRerequest(t *testing.T) {
	// Тест выгрузки с повторным запросом: результат старой загрузки
	// отбрасывается, новая запись загружается заново
	gate := make(chan struct{})
	provider := &stubProvider{gate: gate}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	c := vec.Vec2{X: 11, Y: 12}
	old := sm.RequestChunk(c)
	assert.Eventually(t, func() bool { return provider.callCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	assert.True(t, sm.EvictChunk(c))
	fresh := sm.RequestChunk(c)
	assert.NotSame(t, old, fresh, "после выгрузки создаётся новая запись")

	close(gate)

	assert.Eventually(t, func() bool { return sm.IsChunkReady(c) },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, provider.callCount(), "координата должна генерироваться дважды")

	current, ok := sm.ChunkAt(c)
	assert.True(t, ok)
	assert.Same(t, fresh, current)
}

func TestStreamManager_Status(t *testing.T) {
	// Тест снимка состояния
	provider := &stubProvider{}
	sm := NewStreamManager(testSpace(), provider, testConfig())
	defer sm.Shutdown()

	sm.Space().SetOriginTarget(vec.Vec3{X: 7200, Z: 3600})
	_, err := sm.LoadChunkAwait(context.Background(), vec.Vec2{X: 56, Y: 28})
	assert.NoError(t, err)
	sm.SetInitialized(true)

	st := sm.Status()
	assert.Equal(t, vec.Vec3{X: 7200, Z: 3600}, st.Origin)
	assert.Equal(t, 1, st.Resident)
	assert.Equal(t, 1, st.Ready)
	assert.True(t, st.Initialized)
	assert.False(t, st.TeleportLocked)
	assert.GreaterOrEqual(t, st.Generation, int64(0))
}
