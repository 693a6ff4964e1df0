package terrain

import (
	"math"

	"github.com/annel0/bigworld/internal/vec"
)

// Heightmap карта высот одного чанка в виртуальном фрейме.
// Высоты не зависят от текущего origin, поэтому карту можно кэшировать
// на диске и переиспользовать после ре-центрирования, в отличие от
// геометрии меша, которая строится в локальном фрейме.
type Heightmap struct {
	Coord      vec.Vec2  `json:"coord"`
	ChunkSize  float64   `json:"chunk_size"`
	Resolution int       `json:"resolution"` // Сэмплов на сторону, включая оба края
	Heights    []float64 `json:"heights"`    // Row-major: [z][x]
}

// OriginX возвращает виртуальную X угла чанка
func (h *Heightmap) OriginX() float64 { return float64(h.Coord.X) * h.ChunkSize }

// OriginZ возвращает виртуальную Z угла чанка
func (h *Heightmap) OriginZ() float64 { return float64(h.Coord.Y) * h.ChunkSize }

// Contains проверяет, что вертикальная колонка (vx, vz) проходит через чанк
func (h *Heightmap) Contains(vx, vz float64) bool {
	lx := vx - h.OriginX()
	lz := vz - h.OriginZ()
	return lx >= 0 && lx <= h.ChunkSize && lz >= 0 && lz <= h.ChunkSize
}

// HeightAt возвращает высоту рельефа в точке (vx, vz) с билинейной
// интерполяцией между сэмплами. Второе значение false, если колонка
// лежит вне чанка.
func (h *Heightmap) HeightAt(vx, vz float64) (float64, bool) {
	if !h.Contains(vx, vz) || h.Resolution < 2 {
		return 0, false
	}

	step := h.ChunkSize / float64(h.Resolution-1)
	fx := (vx - h.OriginX()) / step
	fz := (vz - h.OriginZ()) / step

	ix := int(math.Floor(fx))
	iz := int(math.Floor(fz))

	// На дальнем краю чанка интерполируем из предпоследней ячейки
	if ix > h.Resolution-2 {
		ix = h.Resolution - 2
	}
	if iz > h.Resolution-2 {
		iz = h.Resolution - 2
	}

	tx := fx - float64(ix)
	tz := fz - float64(iz)

	h00 := h.Heights[iz*h.Resolution+ix]
	h10 := h.Heights[iz*h.Resolution+ix+1]
	h01 := h.Heights[(iz+1)*h.Resolution+ix]
	h11 := h.Heights[(iz+1)*h.Resolution+ix+1]

	top := h00 + (h10-h00)*tx
	bottom := h01 + (h11-h01)*tx

	return top + (bottom-top)*tz, true
}

// RaycastDown пускает вертикальный луч вниз из точки (vx, fromY, vz).
// Возвращает высоту точки попадания в рельеф. Луч промахивается, если
// колонка вне чанка или стартовая точка уже ниже поверхности.
func (h *Heightmap) RaycastDown(vx, vz, fromY float64) (float64, bool) {
	height, ok := h.HeightAt(vx, vz)
	if !ok || height > fromY {
		return 0, false
	}
	return height, true
}
