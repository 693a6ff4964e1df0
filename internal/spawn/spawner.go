package spawn

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/annel0/bigworld/internal/coord"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/storage"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/annel0/bigworld/internal/world"
)

// ErrPositioningInFlight возвращается при попытке телепортации, пока
// предыдущая ещё не завершена. Конкурирующий запрос отклоняется, а не
// ставится в очередь: протокол двигает origin всего мира.
var ErrPositioningInFlight = errors.New("позиционирование уже выполняется")

// Entity сущность, которую спавнер размещает в мире.
// Позиция сущности хранится в локальном фрейме.
type Entity interface {
	SetLocalPosition(coord.Local)
	LocalPosition() coord.Local
}

// Config параметры протокола позиционирования
type Config struct {
	SafeHeight     float64       // Высота парковки на время загрузки рельефа
	FallbackHeight float64       // Высота при провале позиционирования
	FixedOffset    float64       // Зазор между рельефом и сущностью
	SettleDelay    time.Duration // Пауза перед фоновой загрузкой окружения
	SnapBelow      float64       // Порог жёсткого подтягивания из-под рельефа
	SnapAbove      float64       // Порог мягкого опускания на рельеф
	DefaultHeight  float64       // Номинальная высота цели при спавне
}

// Result итог позиционирования
type Result struct {
	Position vec.Vec3 // Итоговая виртуальная позиция
	Grounded bool     // true — высота выведена из рельефа, false — fallback
}

// Spawner выполняет протокол телепортации с переносом origin.
// Последовательность фиксирована: зажим цели, перенос origin, парковка
// сущности, выгрузка всех чанков под блокировкой, синхронная загрузка
// центрального чанка, вертикальный raycast, снятие блокировки,
// отложенная загрузка окружения и сохранение позиции.
type Spawner struct {
	space     *coord.Space
	streamer  *world.StreamManager
	positions *storage.PositionStore
	profileID string
	cfg       Config

	// Защита от конкурентных телепортов
	inFlight int32
}

// NewSpawner создаёт спавнер. Нулевые поля конфигурации заменяются
// значениями по умолчанию.
func NewSpawner(streamer *world.StreamManager, positions *storage.PositionStore, profileID string, cfg Config) *Spawner {
	if cfg.SafeHeight <= 0 {
		cfg.SafeHeight = 400
	}
	if cfg.FallbackHeight <= 0 {
		cfg.FallbackHeight = 80
	}
	if cfg.FixedOffset <= 0 {
		cfg.FixedOffset = 2.0
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 250 * time.Millisecond
	}
	if cfg.SnapBelow <= 0 {
		cfg.SnapBelow = 6.0
	}
	if cfg.SnapAbove <= 0 {
		cfg.SnapAbove = 0.5
	}
	if cfg.DefaultHeight <= 0 {
		cfg.DefaultHeight = 100
	}

	return &Spawner{
		space:     streamer.Space(),
		streamer:  streamer,
		positions: positions,
		profileID: profileID,
		cfg:       cfg,
	}
}

// PositionOnTerrain телепортирует сущность в виртуальную цель и ставит её
// на рельеф. Возвращает ErrPositioningInFlight, если протокол уже идёт.
// Провал загрузки или промах луча не ошибка: сущность остаётся на
// fallback-высоте, сессия продолжается.
func (s *Spawner) PositionOnTerrain(ctx context.Context, e Entity, target vec.Vec3) (Result, error) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		logging.Warn("⚠️ Телепорт в (%.1f, %.1f) отклонён: позиционирование уже выполняется", target.X, target.Z)
		teleports.WithLabelValues("rejected").Inc()
		return Result{}, ErrPositioningInFlight
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	start := time.Now()

	// Цель зажимается в границы мира, высота цели игнорируется
	target = s.space.ClampToWorld(target)

	// Origin переезжает в цель. Origin живёт на плоскости XZ: высоты
	// малы и остаются абсолютными в локальном фрейме.
	origin := vec.Vec3{X: target.X, Z: target.Z}
	s.space.SetOriginTarget(origin)

	// Парковка на безопасной высоте, пока внизу нет рельефа
	e.SetLocalPosition(coord.Local{Y: s.cfg.SafeHeight})

	// Вся старая геометрия непригодна после переноса origin
	s.streamer.SetTeleportLock(true)
	cleared := s.streamer.ClearAll()
	originShifts.Inc()
	world.PublishEvent(world.EventOriginShift, world.OriginShiftPayload{
		Origin:  origin,
		Cleared: cleared,
	})

	logging.Info("🚀 Телепорт в (%.1f, %.1f): origin перенесён, выгружено %d чанков",
		target.X, target.Z, cleared)

	// Центральный чанк грузится синхронно, минуя очередь
	center := s.space.ChunkCoordOf(target)
	chunk, err := s.streamer.LoadChunkAwait(ctx, center)
	if err != nil {
		return s.fallback(ctx, e, target, start, err), nil
	}

	// Вертикальный луч с безопасной высоты, только по центральному чанку
	hitY, ok := chunk.RaycastDown(target.X, target.Z, s.cfg.SafeHeight)
	if !ok {
		return s.fallback(ctx, e, target, start, errors.New("луч не нашёл рельеф под целью")), nil
	}

	final := vec.Vec3{X: target.X, Y: hitY + s.cfg.FixedOffset, Z: target.Z}
	e.SetLocalPosition(s.space.ToLocal(final))

	s.streamer.SetTeleportLock(false)
	s.streamer.SetInitialized(true)

	// Окружение догружается в фоне после короткой паузы оседания
	go func() {
		time.Sleep(s.cfg.SettleDelay)
		s.streamer.LoadSurroundingAsync(final)
	}()

	s.persist(ctx, final)

	teleports.WithLabelValues("ok").Inc()
	positioningDuration.Observe(time.Since(start).Seconds())
	world.PublishEvent(world.EventTeleport, world.TeleportPayload{
		Target:  target,
		Height:  final.Y,
		Success: true,
	})

	logging.Info("✅ Позиционирование завершено: (%.1f, %.2f, %.1f) за %v",
		final.X, final.Y, final.Z, time.Since(start))

	return Result{Position: final, Grounded: true}, nil
}

// fallback завершает провалившееся позиционирование. Сущность остаётся
// на страховочной высоте, позиция всё равно сохраняется: x/z валидны,
// высота при следующем входе будет выведена заново.
func (s *Spawner) fallback(ctx context.Context, e Entity, target vec.Vec3, start time.Time, cause error) Result {
	logging.Error("❌ Позиционирование в (%.1f, %.1f) провалено: %v", target.X, target.Z, cause)

	final := vec.Vec3{X: target.X, Y: s.cfg.FallbackHeight, Z: target.Z}
	e.SetLocalPosition(s.space.ToLocal(final))

	s.streamer.SetTeleportLock(false)
	s.streamer.SetInitialized(false)

	s.persist(ctx, final)

	teleports.WithLabelValues("fallback").Inc()
	positioningDuration.Observe(time.Since(start).Seconds())
	world.PublishEvent(world.EventTeleport, world.TeleportPayload{
		Target:  target,
		Height:  final.Y,
		Success: false,
	})

	return Result{Position: final, Grounded: false}
}

// RestoreOrDefault начинает сессию: восстанавливает сохранённую позицию
// профиля или спавнит в центре мира, затем выполняет полный протокол
// позиционирования.
func (s *Spawner) RestoreOrDefault(ctx context.Context, e Entity) (Result, error) {
	saved, err := s.positions.Load(ctx, s.profileID)
	if err != nil {
		// Недоступное хранилище не должно блокировать вход
		logging.Warn("Не удалось загрузить сохранённую позицию %s: %v", s.profileID, err)
		saved = nil
	}

	var target vec.Vec3
	if saved != nil {
		target = vec.Vec3{
			X: saved.X * s.space.WorldWidth(),
			Y: s.cfg.DefaultHeight,
			Z: saved.Z * s.space.WorldHeight(),
		}
		logging.Info("📦 Профиль %s: восстановление позиции (%.1f, %.1f)", s.profileID, target.X, target.Z)
	} else {
		target = vec.Vec3{
			X: s.space.WorldWidth() / 2,
			Y: s.cfg.DefaultHeight,
			Z: s.space.WorldHeight() / 2,
		}
		logging.Info("🎮 Профиль %s: сохранённой позиции нет, спавн в центре мира", s.profileID)
	}

	return s.PositionOnTerrain(ctx, e, target)
}

// PersistPosition сохраняет виртуальную позицию профиля в нормализованных
// координатах. Высота не сохраняется.
func (s *Spawner) PersistPosition(ctx context.Context, virtual vec.Vec3) error {
	normX := virtual.X / s.space.WorldWidth()
	normZ := virtual.Z / s.space.WorldHeight()
	return s.positions.Save(ctx, s.profileID, normX, normZ)
}

// ClearSavedPosition сбрасывает сохранённую позицию профиля
func (s *Spawner) ClearSavedPosition(ctx context.Context) error {
	return s.positions.Clear(ctx, s.profileID)
}

// SavedPosition возвращает сохранённую позицию профиля, nil при её отсутствии
func (s *Spawner) SavedPosition(ctx context.Context) (*storage.PersistedPosition, error) {
	return s.positions.Load(ctx, s.profileID)
}

// InFlight сообщает, выполняется ли протокол позиционирования
func (s *Spawner) InFlight() bool {
	return atomic.LoadInt32(&s.inFlight) == 1
}

// persist сохраняет позицию, не превращая ошибку хранилища в провал
// телепортации
func (s *Spawner) persist(ctx context.Context, virtual vec.Vec3) {
	if err := s.PersistPosition(ctx, virtual); err != nil {
		logging.Warn("Не удалось сохранить позицию профиля %s: %v", s.profileID, err)
	}
}
