package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/bigworld/internal/coord"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/terrain"
	"github.com/annel0/bigworld/internal/vec"
)

// Провальные чанки перезапрашиваются не чаще этого интервала
const failedRetryAfter = 10 * time.Second

// ErrOutOfBounds возвращается при запросе координаты вне сетки мира
var ErrOutOfBounds = errors.New("координата чанка вне сетки мира")

// StreamConfig параметры стриминга чанков
type StreamConfig struct {
	LoadRadius  int           // Радиус загрузки вокруг игрока (в чанках)
	KeepRadius  int           // Радиус удержания, строго больше LoadRadius
	Workers     int           // Число фоновых воркеров загрузки
	LoadTimeout time.Duration // Таймаут одной загрузки чанка
	QueueSize   int           // Ёмкость очереди заданий
}

// loadJob задание на загрузку чанка
type loadJob struct {
	chunk      *Chunk
	generation int64
}

// StreamManager управляет резидентным набором чанков вокруг игрока.
// Резидентность — максимум одна запись на координату; запись в состоянии
// REQUESTED/LOADING одновременно является признаком загрузки в полёте,
// поэтому повторные запросы той же координаты дедуплицируются сами.
type StreamManager struct {
	space    *coord.Space
	provider terrain.Provider

	mu     sync.RWMutex
	chunks map[vec.Vec2]*Chunk

	loadRadius  int
	keepRadius  int
	loadTimeout time.Duration

	// Поколение растёт на каждом ClearAll; результаты загрузок
	// предыдущих поколений отбрасываются
	generation int64

	teleportLocked int32
	initialized    int32

	jobs chan loadJob
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewStreamManager создаёт менеджер стриминга и запускает воркеры загрузки
func NewStreamManager(space *coord.Space, provider terrain.Provider, cfg StreamConfig) *StreamManager {
	if cfg.LoadRadius <= 0 {
		cfg.LoadRadius = 2
	}
	if cfg.KeepRadius <= cfg.LoadRadius {
		logging.Warn("Радиус удержания %d <= радиуса загрузки %d, использую %d",
			cfg.KeepRadius, cfg.LoadRadius, cfg.LoadRadius+2)
		cfg.KeepRadius = cfg.LoadRadius + 2
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	sm := &StreamManager{
		space:       space,
		provider:    provider,
		chunks:      make(map[vec.Vec2]*Chunk),
		loadRadius:  cfg.LoadRadius,
		keepRadius:  cfg.KeepRadius,
		loadTimeout: cfg.LoadTimeout,
		jobs:        make(chan loadJob, cfg.QueueSize),
		quit:        make(chan struct{}),
	}

	sm.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go sm.worker()
	}

	logging.Info("🌍 StreamManager запущен: радиус загрузки %d, удержания %d, воркеров %d",
		cfg.LoadRadius, cfg.KeepRadius, cfg.Workers)

	return sm
}

// Shutdown останавливает воркеры. Начатые загрузки довершаются.
func (sm *StreamManager) Shutdown() {
	close(sm.quit)
	sm.wg.Wait()
	logging.Info("🌍 StreamManager остановлен")
}

// Space возвращает координатное пространство менеджера
func (sm *StreamManager) Space() *coord.Space {
	return sm.space
}

// RequestChunk ставит чанк в очередь загрузки. Идемпотентна: если
// координата уже резидентна в любом состоянии, возвращается существующий
// чанк без нового задания.
func (sm *StreamManager) RequestChunk(c vec.Vec2) *Chunk {
	sm.mu.Lock()
	if existing, ok := sm.chunks[c]; ok {
		sm.mu.Unlock()
		return existing
	}

	chunk := NewChunk(c)
	sm.chunks[c] = chunk
	gen := atomic.LoadInt64(&sm.generation)
	chunksResident.Set(float64(len(sm.chunks)))
	sm.mu.Unlock()

	chunkRequests.Inc()

	select {
	case sm.jobs <- loadJob{chunk: chunk, generation: gen}:
	default:
		// Очередь переполнена: снимаем резидентность, следующий тик повторит
		sm.mu.Lock()
		if sm.chunks[c] == chunk {
			delete(sm.chunks, c)
			chunksResident.Set(float64(len(sm.chunks)))
		}
		sm.mu.Unlock()
		logging.Warn("⚠️ Очередь загрузки переполнена, запрос чанка %s отброшен", ChunkKey(c))
		return nil
	}

	return chunk
}

// LoadChunkAwait загружает чанк с высоким приоритетом, минуя очередь
// воркеров, и ждёт завершения. Если загрузка той же координаты уже в
// полёте, просто дожидается её результата. Координата за пределами сетки
// мира отклоняется с ErrOutOfBounds и не становится резидентной.
func (sm *StreamManager) LoadChunkAwait(ctx context.Context, c vec.Vec2) (*Chunk, error) {
	if !sm.space.InGrid(c) {
		return nil, fmt.Errorf("чанк %s: %w", ChunkKey(c), ErrOutOfBounds)
	}

	sm.mu.Lock()
	chunk, ok := sm.chunks[c]
	if !ok {
		chunk = NewChunk(c)
		sm.chunks[c] = chunk
		chunksResident.Set(float64(len(sm.chunks)))
		chunkRequests.Inc()
	}
	sm.mu.Unlock()

	if chunk.markLoading() {
		sm.buildChunk(ctx, chunk)
	}

	select {
	case <-chunk.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if chunk.State() != StateReady {
		if err := chunk.Err(); err != nil {
			return chunk, err
		}
		return chunk, fmt.Errorf("чанк %s не готов", ChunkKey(c))
	}
	return chunk, nil
}

// LoadSurroundingAsync запрашивает регион вокруг виртуальной позиции без
// ожидания. Запросы идут в порядке возрастания манхэттенского расстояния
// от центра; порядок завершения не гарантируется.
func (sm *StreamManager) LoadSurroundingAsync(center vec.Vec3) {
	sm.requestAround(sm.space.ChunkCoordOf(center))
}

// UpdateChunks один тик стриминга: догружает чанки в радиусе загрузки и
// выгружает ушедшие за радиус удержания. Во время телепортации не делает
// ничего, чтобы не конкурировать с протоколом позиционирования.
func (sm *StreamManager) UpdateChunks(player vec.Vec3) {
	if sm.TeleportLocked() {
		return
	}

	center := sm.space.ChunkCoordOf(player)
	sm.requestAround(center)
	sm.evictBeyond(center)
}

// requestAround запрашивает недостающие чанки в квадрате радиуса загрузки,
// ближние (по Манхэттену) первыми
func (sm *StreamManager) requestAround(center vec.Vec2) {
	r := sm.loadRadius
	candidates := make([]vec.Vec2, 0, (2*r+1)*(2*r+1))

	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			c := vec.Vec2{X: center.X + dx, Y: center.Y + dz}
			if sm.space.InGrid(c) {
				candidates = append(candidates, c)
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := candidates[i].ManhattanTo(center)
		dj := candidates[j].ManhattanTo(center)
		if di != dj {
			return di < dj
		}
		if candidates[i].Y != candidates[j].Y {
			return candidates[i].Y < candidates[j].Y
		}
		return candidates[i].X < candidates[j].X
	})

	for _, c := range candidates {
		if sm.shouldRequest(c) {
			sm.RequestChunk(c)
		}
	}
}

// shouldRequest решает, нужен ли новый запрос координаты.
// Провальный чанк со временем выгружается и пробуется заново.
func (sm *StreamManager) shouldRequest(c vec.Vec2) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	chunk, ok := sm.chunks[c]
	if !ok {
		return true
	}
	if chunk.State() == StateFailed && time.Since(chunk.requestedAt) > failedRetryAfter {
		delete(sm.chunks, c)
		chunksResident.Set(float64(len(sm.chunks)))
		return true
	}
	return false
}

// evictBeyond выгружает чанки за радиусом удержания (по Чебышёву)
func (sm *StreamManager) evictBeyond(center vec.Vec2) {
	var evicted []vec.Vec2

	sm.mu.Lock()
	for c := range sm.chunks {
		dx := c.X - center.X
		if dx < 0 {
			dx = -dx
		}
		dz := c.Y - center.Y
		if dz < 0 {
			dz = -dz
		}
		if dx > sm.keepRadius || dz > sm.keepRadius {
			delete(sm.chunks, c)
			evicted = append(evicted, c)
		}
	}
	chunksResident.Set(float64(len(sm.chunks)))
	sm.mu.Unlock()

	for _, c := range evicted {
		chunkEvictions.Inc()
		publishChunkEvent(EventChunkEvicted, c, 0, nil)
	}
}

// EvictChunk выгружает одну координату. Загрузка в полёте не прерывается,
// но её результат будет отброшен.
func (sm *StreamManager) EvictChunk(c vec.Vec2) bool {
	sm.mu.Lock()
	_, ok := sm.chunks[c]
	if ok {
		delete(sm.chunks, c)
		chunksResident.Set(float64(len(sm.chunks)))
	}
	sm.mu.Unlock()

	if ok {
		chunkEvictions.Inc()
		publishChunkEvent(EventChunkEvicted, c, 0, nil)
	}
	return ok
}

// ClearAll выгружает все чанки и обесценивает результаты всех загрузок в
// полёте. Вся геометрия строится заново: после смены origin старые меши
// непригодны. Возвращает число выгруженных чанков.
func (sm *StreamManager) ClearAll() int {
	sm.mu.Lock()
	atomic.AddInt64(&sm.generation, 1)
	n := len(sm.chunks)
	sm.chunks = make(map[vec.Vec2]*Chunk)
	chunksResident.Set(0)
	sm.mu.Unlock()

	if n > 0 {
		logging.Debug("Выгружено %d чанков, поколение %d", n, atomic.LoadInt64(&sm.generation))
	}
	return n
}

// ChunkAt возвращает резидентный чанк координаты
func (sm *StreamManager) ChunkAt(c vec.Vec2) (*Chunk, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	chunk, ok := sm.chunks[c]
	return chunk, ok
}

// ChunkUnderPosition возвращает резидентный чанк под виртуальной позицией
func (sm *StreamManager) ChunkUnderPosition(v vec.Vec3) (*Chunk, bool) {
	return sm.ChunkAt(sm.space.ChunkCoordOf(v))
}

// IsChunkReady сообщает, готова ли геометрия координаты
func (sm *StreamManager) IsChunkReady(c vec.Vec2) bool {
	chunk, ok := sm.ChunkAt(c)
	return ok && chunk.IsReady()
}

// ResidentCount возвращает число резидентных чанков
func (sm *StreamManager) ResidentCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.chunks)
}

// ChunkInfo описание резидентного чанка для отладочных ручек
type ChunkInfo struct {
	Coord vec.Vec2 `json:"coord"`
	State string   `json:"state"`
	AgeMs int64    `json:"age_ms"`
}

// ResidentChunks возвращает снимок резидентного набора
func (sm *StreamManager) ResidentChunks() []ChunkInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	now := time.Now()
	infos := make([]ChunkInfo, 0, len(sm.chunks))
	for coord, chunk := range sm.chunks {
		infos = append(infos, ChunkInfo{
			Coord: coord,
			State: chunk.State().String(),
			AgeMs: now.Sub(chunk.RequestedAt()).Milliseconds(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Coord.Y != infos[j].Coord.Y {
			return infos[i].Coord.Y < infos[j].Coord.Y
		}
		return infos[i].Coord.X < infos[j].Coord.X
	})
	return infos
}

// SetTeleportLock включает или выключает блокировку стриминга на время
// протокола позиционирования
func (sm *StreamManager) SetTeleportLock(locked bool) {
	var v int32
	if locked {
		v = 1
	}
	atomic.StoreInt32(&sm.teleportLocked, v)
}

// TeleportLocked сообщает, удерживается ли блокировка телепортации
func (sm *StreamManager) TeleportLocked() bool {
	return atomic.LoadInt32(&sm.teleportLocked) == 1
}

// SetInitialized отмечает исход первого позиционирования
func (sm *StreamManager) SetInitialized(ok bool) {
	var v int32
	if ok {
		v = 1
	}
	atomic.StoreInt32(&sm.initialized, v)
}

// HasInitialized сообщает, было ли успешное позиционирование
func (sm *StreamManager) HasInitialized() bool {
	return atomic.LoadInt32(&sm.initialized) == 1
}

// Status снимок состояния стриминга для отладочного API
type Status struct {
	Origin         vec.Vec3 `json:"origin"`
	Resident       int      `json:"resident"`
	Requested      int      `json:"requested"`
	Loading        int      `json:"loading"`
	Ready          int      `json:"ready"`
	Failed         int      `json:"failed"`
	Generation     int64    `json:"generation"`
	QueueDepth     int      `json:"queue_depth"`
	TeleportLocked bool     `json:"teleport_locked"`
	Initialized    bool     `json:"initialized"`
}

// Status возвращает снимок состояния менеджера
func (sm *StreamManager) Status() Status {
	st := Status{
		Origin:         sm.space.Origin(),
		Generation:     atomic.LoadInt64(&sm.generation),
		QueueDepth:     len(sm.jobs),
		TeleportLocked: sm.TeleportLocked(),
		Initialized:    sm.HasInitialized(),
	}

	sm.mu.RLock()
	st.Resident = len(sm.chunks)
	for _, chunk := range sm.chunks {
		switch chunk.State() {
		case StateRequested:
			st.Requested++
		case StateLoading:
			st.Loading++
		case StateReady:
			st.Ready++
		case StateFailed:
			st.Failed++
		}
	}
	sm.mu.RUnlock()

	return st
}

// worker фоновая горутина загрузки чанков
func (sm *StreamManager) worker() {
	defer sm.wg.Done()

	for {
		select {
		case <-sm.quit:
			return
		case job := <-sm.jobs:
			// Задание устаревшего поколения: чанк уже выгружен ClearAll
			if atomic.LoadInt64(&sm.generation) != job.generation {
				staleLoads.Inc()
				continue
			}
			// Чанк мог быть взят внеочередной загрузкой
			if !job.chunk.markLoading() {
				continue
			}
			sm.buildChunk(context.Background(), job.chunk)
		}
	}
}

// buildChunk строит геометрию чанка и завершает его загрузку.
// Вызывается только после успешного markLoading.
func (sm *StreamManager) buildChunk(parent context.Context, chunk *Chunk) {
	ctx, cancel := context.WithTimeout(parent, sm.loadTimeout)
	defer cancel()

	// Геометрия привязывается к origin на момент построения
	builtOrigin := sm.space.Origin()

	hm, err := sm.provider.BuildHeightmap(ctx, chunk.Coord)
	if err != nil {
		chunk.completeFailed(fmt.Errorf("загрузка чанка %s: %w", ChunkKey(chunk.Coord), err))
	} else {
		chunk.completeReady(hm, builtOrigin)
	}

	// Результат применяется только если эта запись всё ещё резидентна:
	// выгруженный или обесцененный ClearAll чанк молча отбрасывается
	sm.mu.RLock()
	resident := sm.chunks[chunk.Coord] == chunk
	sm.mu.RUnlock()

	if !resident {
		staleLoads.Inc()
		logging.Trace("Результат загрузки %s отброшен: чанк больше не резидентен", ChunkKey(chunk.Coord))
		return
	}

	if err != nil {
		chunkLoadFailures.Inc()
		logging.Warn("❌ Чанк %s не загружен: %v", ChunkKey(chunk.Coord), err)
		publishChunkEvent(EventChunkFailed, chunk.Coord, 0, err)
		return
	}

	loadDuration.Observe(chunk.loadDuration().Seconds())
	publishChunkEvent(EventChunkReady, chunk.Coord, chunk.loadDuration(), nil)
}

// ChunkKey возвращает строковый ключ координаты чанка вида "cx:cy"
func ChunkKey(c vec.Vec2) string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}
