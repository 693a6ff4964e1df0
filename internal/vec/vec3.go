package vec

import "math"

// Vec3 представляет трехмерный вектор с координатами float64.
// Виртуальные (мировые) позиции хранятся только в float64: на краях
// большого мира float32 уже теряет точность.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// WithY возвращает копию вектора с заменённой высотой
func (v Vec3) WithY(y float64) Vec3 {
	return Vec3{X: v.X, Y: y, Z: v.Z}
}

// DistanceTo возвращает расстояние до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// HorizontalDistanceTo возвращает расстояние в плоскости XZ, игнорируя высоту.
// Потоковая подгрузка чанков оперирует только горизонтальной дистанцией.
func (v Vec3) HorizontalDistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// IsFinite проверяет, что все компоненты являются конечными числами
func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
