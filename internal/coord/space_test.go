package coord

import (
	"testing"

	"github.com/annel0/bigworld/internal/vec"
	"github.com/stretchr/testify/assert"
)

func TestToLocalToVirtualRoundTrip(t *testing.T) {
	s := NewSpace(14400, 7200, 128)
	s.SetOriginTarget(vec.Vec3{X: 7200, Y: 0, Z: 3600})

	virtual := vec.Vec3{X: 7350.5, Y: 42.0, Z: 3590.25}
	local := s.ToLocal(virtual)

	assert.InDelta(t, 150.5, local.X, 1e-9, "локальная X = виртуальная - origin")
	assert.InDelta(t, -9.75, local.Z, 1e-9, "локальная Z = виртуальная - origin")

	back := s.ToVirtual(local)
	assert.InDelta(t, virtual.X, back.X, 1e-9)
	assert.InDelta(t, virtual.Y, back.Y, 1e-9)
	assert.InDelta(t, virtual.Z, back.Z, 1e-9)
}

func TestOriginShiftKeepsVirtualStable(t *testing.T) {
	s := NewSpace(14400, 7200, 128)
	virtual := vec.Vec3{X: 12000, Y: 10, Z: 6000}

	s.SetOriginTarget(vec.Vec3{})
	before := s.ToVirtual(s.ToLocal(virtual))

	// Перенос origin меняет локальное представление, но не виртуальное
	s.SetOriginTarget(vec.Vec3{X: 12000, Z: 6000})
	after := s.ToVirtual(s.ToLocal(virtual))

	assert.Equal(t, before, after, "виртуальная позиция не должна зависеть от origin")

	local := s.ToLocal(virtual)
	assert.InDelta(t, 0, local.X, 1e-9, "после переноса origin цель в локальном нуле")
	assert.InDelta(t, 0, local.Z, 1e-9)
}

func TestClampToWorld(t *testing.T) {
	s := NewSpace(14400, 7200, 128)

	tests := []struct {
		name string
		in   vec.Vec3
		out  vec.Vec3
	}{
		{"внутри мира", vec.Vec3{X: 100, Y: 5, Z: 200}, vec.Vec3{X: 100, Y: 5, Z: 200}},
		{"за правым краем", vec.Vec3{X: 15000, Z: 100}, vec.Vec3{X: 14400, Z: 100}},
		{"отрицательные оба", vec.Vec3{X: -5, Z: -3}, vec.Vec3{X: 0, Z: 0}},
		{"за дальним краем", vec.Vec3{X: 7200, Z: 9000}, vec.Vec3{X: 7200, Z: 7200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ClampToWorld(tt.in)
			assert.Equal(t, tt.out.X, got.X)
			assert.Equal(t, tt.out.Z, got.Z)
		})
	}
}

func TestClampDoesNotTouchHeight(t *testing.T) {
	s := NewSpace(14400, 7200, 128)

	got := s.ClampToWorld(vec.Vec3{X: -100, Y: 999, Z: 100})
	assert.Equal(t, 999.0, got.Y, "зажим работает только в плоскости XZ")
}

func TestChunkCoordOf(t *testing.T) {
	s := NewSpace(14400, 7200, 128)

	// Центр мира 14400x7200 при чанке 128 попадает в чанк (56, 28)
	c := s.ChunkCoordOf(vec.Vec3{X: 7200, Z: 3600})
	assert.Equal(t, vec.Vec2{X: 56, Y: 28}, c)

	// Границы чанка: позиция ровно на границе принадлежит следующему чанку
	assert.Equal(t, vec.Vec2{X: 0, Y: 0}, s.ChunkCoordOf(vec.Vec3{X: 127.999, Z: 0.5}))
	assert.Equal(t, vec.Vec2{X: 1, Y: 0}, s.ChunkCoordOf(vec.Vec3{X: 128, Z: 0.5}))
}

func TestChunkOriginInverse(t *testing.T) {
	s := NewSpace(14400, 7200, 128)

	c := vec.Vec2{X: 56, Y: 28}
	origin := s.ChunkOrigin(c)
	assert.Equal(t, 7168.0, origin.X)
	assert.Equal(t, 3584.0, origin.Z)
	assert.Equal(t, c, s.ChunkCoordOf(origin))
}

func TestGridExtents(t *testing.T) {
	s := NewSpace(14400, 7200, 128)

	cols, rows := s.GridExtents()
	assert.Equal(t, 113, cols, "14400/128 + правая граница")
	assert.Equal(t, 57, rows)

	assert.True(t, s.InGrid(vec.Vec2{X: 0, Y: 0}))
	assert.True(t, s.InGrid(vec.Vec2{X: 56, Y: 28}))
	assert.False(t, s.InGrid(vec.Vec2{X: -1, Y: 0}))
	assert.False(t, s.InGrid(vec.Vec2{X: 200, Y: 5}))
}

func TestDefaultsApplied(t *testing.T) {
	s := NewSpace(0, 0, 0)

	assert.Equal(t, DefaultWorldWidth, s.WorldWidth())
	assert.Equal(t, DefaultWorldHeight, s.WorldHeight())
	assert.Equal(t, DefaultChunkSize, s.ChunkSize())
}
