package world

import (
	"sync"
	"time"

	"github.com/annel0/bigworld/internal/terrain"
	"github.com/annel0/bigworld/internal/vec"
)

// ChunkState состояние жизненного цикла чанка
type ChunkState int32

const (
	StateRequested ChunkState = iota // Запрошен, ждёт воркера
	StateLoading                     // Воркер строит геометрию
	StateReady                       // Геометрия готова, чанк пригоден для raycast
	StateFailed                      // Загрузка провалилась или истёк таймаут
)

// String возвращает строковое представление состояния
func (s ChunkState) String() string {
	switch s {
	case StateRequested:
		return "REQUESTED"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Chunk резидентный чанк мира. Карта высот хранится в виртуальном фрейме,
// геометрия считается построенной относительно origin на момент загрузки
// (builtOrigin). После ре-центрирования чанк непригоден и выбрасывается
// целиком, его не перепривязывают к новому origin.
type Chunk struct {
	Coord vec.Vec2

	mu          sync.RWMutex
	state       ChunkState
	heights     *terrain.Heightmap
	builtOrigin vec.Vec3
	loadErr     error
	requestedAt time.Time
	readyAt     time.Time

	// Закрывается при переходе в READY или FAILED
	done chan struct{}
}

// NewChunk создаёт чанк в состоянии REQUESTED
func NewChunk(coord vec.Vec2) *Chunk {
	return &Chunk{
		Coord:       coord,
		state:       StateRequested,
		requestedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// State возвращает текущее состояние чанка
func (c *Chunk) State() ChunkState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsReady сообщает, готова ли геометрия чанка
func (c *Chunk) IsReady() bool {
	return c.State() == StateReady
}

// Heights возвращает карту высот готового чанка
func (c *Chunk) Heights() (*terrain.Heightmap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateReady {
		return nil, false
	}
	return c.heights, true
}

// BuiltOrigin возвращает origin, относительно которого построена геометрия
func (c *Chunk) BuiltOrigin() vec.Vec3 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtOrigin
}

// Err возвращает ошибку загрузки для чанка в состоянии FAILED
func (c *Chunk) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// Done возвращает канал, закрываемый по завершении загрузки (успех или провал)
func (c *Chunk) Done() <-chan struct{} {
	return c.done
}

// RequestedAt возвращает время постановки чанка в резидентный набор
func (c *Chunk) RequestedAt() time.Time {
	return c.requestedAt
}

// HeightAt возвращает высоту рельефа в колонке (vx, vz), если чанк готов
// и колонка проходит через него
func (c *Chunk) HeightAt(vx, vz float64) (float64, bool) {
	hm, ok := c.Heights()
	if !ok {
		return 0, false
	}
	return hm.HeightAt(vx, vz)
}

// RaycastDown пускает вертикальный луч вниз сквозь чанк.
// Промах, если чанк не готов, колонка вне чанка или старт ниже поверхности.
func (c *Chunk) RaycastDown(vx, vz, fromY float64) (float64, bool) {
	hm, ok := c.Heights()
	if !ok {
		return 0, false
	}
	return hm.RaycastDown(vx, vz, fromY)
}

// loadDuration возвращает время от запроса до готовности
func (c *Chunk) loadDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readyAt.Sub(c.requestedAt)
}

// markLoading переводит чанк REQUESTED -> LOADING.
// Возвращает false, если чанк уже взят другим воркером или завершён.
func (c *Chunk) markLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRequested {
		return false
	}
	c.state = StateLoading
	return true
}

// completeReady завершает загрузку успехом. Вызывается только горутиной,
// которой удался markLoading.
func (c *Chunk) completeReady(hm *terrain.Heightmap, builtOrigin vec.Vec3) {
	c.mu.Lock()
	c.state = StateReady
	c.heights = hm
	c.builtOrigin = builtOrigin
	c.readyAt = time.Now()
	c.mu.Unlock()

	close(c.done)
}

// completeFailed завершает загрузку провалом
func (c *Chunk) completeFailed(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.loadErr = err
	c.mu.Unlock()

	close(c.done)
}
