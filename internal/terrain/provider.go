package terrain

import (
	"context"
	"fmt"

	"github.com/annel0/bigworld/internal/vec"
	"github.com/aquilax/go-perlin"
)

// DefaultResolution число сэмплов высоты на сторону чанка
const DefaultResolution = 33

// Provider строит карты высот чанков. Реализации обязаны быть
// детерминированными (один сид — одни высоты) и безопасными для
// конкурентных вызовов из воркеров загрузки.
type Provider interface {
	BuildHeightmap(ctx context.Context, coord vec.Vec2) (*Heightmap, error)
}

// PerlinProvider генерирует рельеф на основе шума Перлина
type PerlinProvider struct {
	seed       int64
	noise      *perlin.Perlin
	chunkSize  float64
	resolution int

	NoiseScale  float64 // Масштаб шума (меньше — более плавный рельеф)
	BaseHeight  float64 // Высота нижней точки рельефа
	HeightScale float64 // Амплитуда рельефа
}

// NewPerlinProvider создаёт генератор рельефа с указанным сидом
func NewPerlinProvider(seed int64, chunkSize float64) *PerlinProvider {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав

	return &PerlinProvider{
		seed:        seed,
		noise:       perlin.NewPerlin(alpha, beta, n, seed),
		chunkSize:   chunkSize,
		resolution:  DefaultResolution,
		NoiseScale:  0.004,
		BaseHeight:  4.0,
		HeightScale: 48.0,
	}
}

// Seed возвращает сид генерации
func (p *PerlinProvider) Seed() int64 { return p.seed }

// BuildHeightmap строит карту высот чанка. Высоты считаются от виртуальных
// координат сэмплов, поэтому результат одинаков при любом origin.
func (p *PerlinProvider) BuildHeightmap(ctx context.Context, coord vec.Vec2) (*Heightmap, error) {
	hm := &Heightmap{
		Coord:      coord,
		ChunkSize:  p.chunkSize,
		Resolution: p.resolution,
		Heights:    make([]float64, p.resolution*p.resolution),
	}

	step := p.chunkSize / float64(p.resolution-1)
	originX := float64(coord.X) * p.chunkSize
	originZ := float64(coord.Y) * p.chunkSize

	for iz := 0; iz < p.resolution; iz++ {
		// Проверяем отмену между рядами, чтобы таймаут загрузки работал
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("генерация чанка %v прервана: %w", coord, err)
		}

		vz := originZ + float64(iz)*step
		for ix := 0; ix < p.resolution; ix++ {
			vx := originX + float64(ix)*step

			// Шум в диапазоне [-1, 1], приводим к [0, 1]
			noise := p.noise.Noise2D(vx*p.NoiseScale, vz*p.NoiseScale)
			value := (noise + 1.0) / 2.0

			hm.Heights[iz*p.resolution+ix] = p.BaseHeight + value*p.HeightScale
		}
	}

	return hm, nil
}
