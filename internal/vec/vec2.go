package vec

import "math"

// Vec2 представляет целочисленную пару координат.
// Основное применение — координаты чанков в сетке мира.
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// ManhattanTo возвращает манхэттенское расстояние до другой точки.
// Используется для упорядочивания фоновой загрузки чанков: ближние тайлы
// запрашиваются раньше дальних.
func (v Vec2) ManhattanTo(other Vec2) int {
	dx := v.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dy := v.Y - other.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// DistanceTo вычисляет евклидово расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
