package coord

import (
	"math"
	"sync"

	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/vec"
)

// Размеры мира по умолчанию в виртуальных единицах.
// Виртуальное пространство безгранично для арифметики, но игровой мир
// ограничен прямоугольником [0..Width] x [0..Height] в плоскости XZ.
const (
	DefaultWorldWidth  = 14400.0
	DefaultWorldHeight = 7200.0
	DefaultChunkSize   = 128.0
)

// Local представляет позицию в локальном (рендерном) фрейме.
// Отдельный тип не даёт случайно смешать локальные и виртуальные
// координаты: виртуальная позиция всегда vec.Vec3, локальная — Local.
type Local struct {
	X float64
	Y float64
	Z float64
}

// Space хранит привязку локального фрейма к виртуальному миру.
// Инвариант: виртуальная = локальная + origin. Origin мутирует только
// протокол позиционирования при ре-центрировании; все остальные
// компоненты читают его через аксессоры.
type Space struct {
	mu     sync.RWMutex
	origin vec.Vec3

	worldWidth  float64
	worldHeight float64
	chunkSize   float64
}

// NewSpace создаёт координатное пространство с указанными размерами мира.
// Нулевые параметры заменяются значениями по умолчанию.
func NewSpace(worldWidth, worldHeight, chunkSize float64) *Space {
	if worldWidth <= 0 {
		worldWidth = DefaultWorldWidth
	}
	if worldHeight <= 0 {
		worldHeight = DefaultWorldHeight
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Space{
		worldWidth:  worldWidth,
		worldHeight: worldHeight,
		chunkSize:   chunkSize,
	}
}

// ToLocal переводит виртуальную позицию в локальный фрейм
func (s *Space) ToLocal(v vec.Vec3) Local {
	s.mu.RLock()
	o := s.origin
	s.mu.RUnlock()

	return Local{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// ToVirtual переводит локальную позицию обратно в виртуальный фрейм
func (s *Space) ToVirtual(l Local) vec.Vec3 {
	s.mu.RLock()
	o := s.origin
	s.mu.RUnlock()

	return vec.Vec3{X: l.X + o.X, Y: l.Y + o.Y, Z: l.Z + o.Z}
}

// SetOriginTarget переносит начало локального фрейма в указанную
// виртуальную позицию. Пространство не обходит сцену: владельцы сущностей
// сами пересчитывают свои локальные позиции, а менеджер стриминга
// выбрасывает геометрию чанков, построенную относительно старого origin.
func (s *Space) SetOriginTarget(v vec.Vec3) {
	s.mu.Lock()
	s.origin = v
	s.mu.Unlock()
}

// Origin возвращает текущий origin (виртуальную позицию локального нуля)
func (s *Space) Origin() vec.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.origin
}

// ClampToWorld ограничивает x/z позицией внутри мира. Выход за границы не
// считается ошибкой: значение молча зажимается, факт зажима логируется.
func (s *Space) ClampToWorld(v vec.Vec3) vec.Vec3 {
	clamped := v

	if clamped.X < 0 {
		clamped.X = 0
	} else if clamped.X > s.worldWidth {
		clamped.X = s.worldWidth
	}

	if clamped.Z < 0 {
		clamped.Z = 0
	} else if clamped.Z > s.worldHeight {
		clamped.Z = s.worldHeight
	}

	if clamped != v {
		logging.Warn("Позиция (%.1f, %.1f) вне мира %gx%g, зажата в (%.1f, %.1f)",
			v.X, v.Z, s.worldWidth, s.worldHeight, clamped.X, clamped.Z)
	}

	return clamped
}

// ChunkSize возвращает размер чанка в виртуальных единицах
func (s *Space) ChunkSize() float64 {
	return s.chunkSize
}

// ChunkCoordOf возвращает координату чанка, содержащего виртуальную позицию.
// Результат не зависит от текущего origin.
func (s *Space) ChunkCoordOf(v vec.Vec3) vec.Vec2 {
	return vec.Vec2{
		X: int(math.Floor(v.X / s.chunkSize)),
		Y: int(math.Floor(v.Z / s.chunkSize)),
	}
}

// ChunkOrigin возвращает виртуальную позицию угла чанка (минимальные x/z)
func (s *Space) ChunkOrigin(c vec.Vec2) vec.Vec3 {
	return vec.Vec3{
		X: float64(c.X) * s.chunkSize,
		Z: float64(c.Y) * s.chunkSize,
	}
}

// GridExtents возвращает число чанков по осям X и Z
func (s *Space) GridExtents() (cols, rows int) {
	cols = int(math.Ceil(s.worldWidth / s.chunkSize))
	rows = int(math.Ceil(s.worldHeight / s.chunkSize))
	return cols, rows
}

// InGrid проверяет, что координата чанка лежит внутри сетки мира
func (s *Space) InGrid(c vec.Vec2) bool {
	cols, rows := s.GridExtents()
	return c.X >= 0 && c.X < cols && c.Y >= 0 && c.Y < rows
}

// WorldWidth возвращает ширину мира (ось X)
func (s *Space) WorldWidth() float64 { return s.worldWidth }

// WorldHeight возвращает протяжённость мира по оси Z
func (s *Space) WorldHeight() float64 { return s.worldHeight }
