package spawn

import (
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/vec"
)

// CheckTerrainUnder следит, чтобы сущность не оказалась внутри рельефа,
// когда чанки догружаются уже после её размещения. Если рельеф под
// сущностью выше её ног, сущность поднимается на рельеф; если она висит
// над рельефом в пределах порога оседания, опускается на него. Большие
// высоты не трогаются: падение не задача этого модуля.
//
// Возвращает true, если позиция была скорректирована.
func (s *Spawner) CheckTerrainUnder(e Entity) bool {
	virtual := s.space.ToVirtual(e.LocalPosition())

	chunk, ok := s.streamer.ChunkUnderPosition(virtual)
	if !ok || !chunk.IsReady() {
		return false
	}

	height, ok := chunk.HeightAt(virtual.X, virtual.Z)
	if !ok {
		return false
	}

	desired := height + s.cfg.FixedOffset
	diff := desired - virtual.Y

	switch {
	case diff > s.cfg.SnapBelow:
		// Сущность глубоко под рельефом, жёсткое подтягивание
		logging.Warn("⚠️ Сущность на %.2f под рельефом в (%.1f, %.1f), подтянута на %.2f",
			diff, virtual.X, virtual.Z, desired)
	case diff > 0:
		// Ноги чуть ниже рельефа, тихая коррекция
	case diff < 0 && -diff <= s.cfg.SnapAbove:
		// Висит над рельефом в пределах порога, оседает
	default:
		return false
	}

	e.SetLocalPosition(s.space.ToLocal(vec.Vec3{X: virtual.X, Y: desired, Z: virtual.Z}))
	terrainSnaps.Inc()
	return true
}
