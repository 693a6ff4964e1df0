package game

import (
	"sync"

	"github.com/annel0/bigworld/internal/coord"
)

// Player сущность, которой управляет сессия. Позиция хранится в локальном
// фрейме: виртуальную позицию восстанавливает владелец через coord.Space.
type Player struct {
	mu    sync.RWMutex
	local coord.Local
}

// NewPlayer создаёт игрока в локальном нуле
func NewPlayer() *Player {
	return &Player{}
}

// SetLocalPosition устанавливает локальную позицию игрока
func (p *Player) SetLocalPosition(l coord.Local) {
	p.mu.Lock()
	p.local = l
	p.mu.Unlock()
}

// LocalPosition возвращает локальную позицию игрока
func (p *Player) LocalPosition() coord.Local {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.local
}

// MoveLocal смещает игрока в локальном фрейме
func (p *Player) MoveLocal(dx, dy, dz float64) {
	p.mu.Lock()
	p.local.X += dx
	p.local.Y += dy
	p.local.Z += dz
	p.mu.Unlock()
}
