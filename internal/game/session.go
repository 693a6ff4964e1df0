package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/bigworld/internal/config"
	"github.com/annel0/bigworld/internal/coord"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/spawn"
	"github.com/annel0/bigworld/internal/storage"
	"github.com/annel0/bigworld/internal/terrain"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/annel0/bigworld/internal/world"
)

// Session связывает все подсистемы мира в один играбельный контур:
// координатное пространство, генерацию рельефа, стриминг чанков, протокол
// позиционирования и сохранение позиции профиля. Сессия ведёт одного
// игрока и крутит игровой тик со стримингом вокруг него.
type Session struct {
	cfg       *config.Config
	space     *coord.Space
	cache     *terrain.CachedProvider
	streamer  *world.StreamManager
	spawner   *spawn.Spawner
	records   storage.RecordStore
	positions *storage.PositionStore
	player    *Player

	quit chan struct{}
	wg   sync.WaitGroup
}

// SessionStatus снимок состояния сессии для отладочных ручек
type SessionStatus struct {
	Profile   string
	Player    vec.Vec3
	Origin    vec.Vec3
	InFlight  bool
	Streaming world.Status
}

// NewSession собирает сессию по конфигурации. Бэкенд хранилища обязан
// подняться; кеш рельефа опционален и при ошибке деградирует до чистой
// генерации.
func NewSession(cfg *config.Config) (*Session, error) {
	space := coord.NewSpace(cfg.World.GetWidth(), cfg.World.GetHeight(), cfg.World.GetChunkSize())

	var provider terrain.Provider
	var cache *terrain.CachedProvider
	perlin := terrain.NewPerlinProvider(cfg.World.GetSeed(), cfg.World.GetChunkSize())
	provider = perlin

	if path := cfg.Storage.GetCachePath(); path != "" {
		cached, err := terrain.NewCachedProvider(perlin, path, cfg.World.GetSeed())
		if err != nil {
			logging.Warn("Кеш рельефа недоступен (%v), генерация без кеша", err)
		} else {
			provider = cached
			cache = cached
		}
	}

	records, err := storage.NewRecordStore(cfg.Storage.GetBackend(), storage.Options{
		BadgerPath:    cfg.Storage.GetBadgerPath(),
		RedisAddr:     cfg.Storage.GetRedisAddr(),
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		MariaDSN:      cfg.Storage.GetMariaDSN(),
		MongoURI:      cfg.Storage.GetMongoURI(),
		MongoDatabase: cfg.Storage.GetMongoDatabase(),
	})
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		return nil, fmt.Errorf("хранилище записей: %w", err)
	}

	positions := storage.NewPositionStore(records)

	streamer := world.NewStreamManager(space, provider, world.StreamConfig{
		LoadRadius:  cfg.Streaming.GetLoadRadius(),
		KeepRadius:  cfg.Streaming.GetKeepRadius(),
		Workers:     cfg.Streaming.GetLoaderWorkers(),
		LoadTimeout: cfg.Streaming.GetLoadTimeout(),
	})

	spawner := spawn.NewSpawner(streamer, positions, cfg.Player.GetProfileID(), spawn.Config{
		SafeHeight:     cfg.Spawn.GetSafeHeight(),
		FallbackHeight: cfg.Spawn.GetFallbackHeight(),
		FixedOffset:    cfg.Spawn.GetFixedOffset(),
		SettleDelay:    cfg.Spawn.GetSettleDelay(),
		SnapBelow:      cfg.Spawn.GetSnapBelow(),
		SnapAbove:      cfg.Spawn.GetSnapAbove(),
		DefaultHeight:  cfg.Spawn.GetDefaultHeight(),
	})

	return &Session{
		cfg:       cfg,
		space:     space,
		cache:     cache,
		streamer:  streamer,
		spawner:   spawner,
		records:   records,
		positions: positions,
		player:    NewPlayer(),
		quit:      make(chan struct{}),
	}, nil
}

// Start запускает игровой тик и автосохранение
func (s *Session) Start() {
	s.wg.Add(2)
	go s.tickLoop()
	go s.autosaveLoop()

	logging.Info("🎮 Сессия запущена: профиль %s, мир %.0fx%.0f, чанк %.0f",
		s.cfg.Player.GetProfileID(), s.space.WorldWidth(), s.space.WorldHeight(), s.space.ChunkSize())
}

// Stop останавливает циклы сессии, сохраняет позицию и закрывает ресурсы
func (s *Session) Stop() {
	close(s.quit)
	s.wg.Wait()

	if s.streamer.HasInitialized() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.spawner.PersistPosition(ctx, s.PlayerVirtual()); err != nil {
			logging.Warn("Не удалось сохранить позицию при остановке: %v", err)
		}
		cancel()
	}

	s.streamer.Shutdown()
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			logging.Warn("Ошибка закрытия кеша рельефа: %v", err)
		}
	}
	if err := s.records.Close(); err != nil {
		logging.Warn("Ошибка закрытия хранилища записей: %v", err)
	}

	logging.Info("✅ Сессия остановлена")
}

// Spawn выполняет вход в мир: восстанавливает сохранённую позицию профиля
// или спавнит игрока в центре мира.
func (s *Session) Spawn(ctx context.Context) (spawn.Result, error) {
	return s.spawner.RestoreOrDefault(ctx, s.player)
}

// Teleport телепортирует игрока в виртуальную точку (x, z)
func (s *Session) Teleport(ctx context.Context, x, z float64) (spawn.Result, error) {
	return s.spawner.PositionOnTerrain(ctx, s.player, vec.Vec3{X: x, Z: z})
}

// MovePlayer смещает игрока по миру и возвращает его новую виртуальную
// позицию. Выход за границы мира зажимается.
func (s *Session) MovePlayer(dx, dz float64) vec.Vec3 {
	v := s.PlayerVirtual()
	v.X += dx
	v.Z += dz
	v = s.space.ClampToWorld(v)
	s.player.SetLocalPosition(s.space.ToLocal(v))
	return v
}

// Player возвращает игрока сессии
func (s *Session) Player() *Player {
	return s.player
}

// PlayerVirtual возвращает виртуальную позицию игрока
func (s *Session) PlayerVirtual() vec.Vec3 {
	return s.space.ToVirtual(s.player.LocalPosition())
}

// Space возвращает координатное пространство сессии
func (s *Session) Space() *coord.Space {
	return s.space
}

// Streamer возвращает менеджер стриминга чанков
func (s *Session) Streamer() *world.StreamManager {
	return s.streamer
}

// SavedPosition возвращает сохранённую позицию профиля
func (s *Session) SavedPosition(ctx context.Context) (*storage.PersistedPosition, error) {
	return s.spawner.SavedPosition(ctx)
}

// ClearSavedPosition сбрасывает сохранённую позицию профиля
func (s *Session) ClearSavedPosition(ctx context.Context) error {
	return s.spawner.ClearSavedPosition(ctx)
}

// Status возвращает снимок состояния сессии
func (s *Session) Status() SessionStatus {
	return SessionStatus{
		Profile:   s.cfg.Player.GetProfileID(),
		Player:    s.PlayerVirtual(),
		Origin:    s.space.Origin(),
		InFlight:  s.spawner.InFlight(),
		Streaming: s.streamer.Status(),
	}
}

// tickLoop крутит игровой тик: стриминг чанков вокруг игрока и контроль
// рельефа под ним. До первого успешного позиционирования тик простаивает.
func (s *Session) tickLoop() {
	defer s.wg.Done()

	interval := time.Second / time.Duration(s.cfg.Streaming.GetTickRate())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			if !s.streamer.HasInitialized() || s.streamer.TeleportLocked() {
				continue
			}
			s.streamer.UpdateChunks(s.PlayerVirtual())
			s.spawner.CheckTerrainUnder(s.player)
		}
	}
}

// autosaveLoop периодически сохраняет позицию профиля
func (s *Session) autosaveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Streaming.GetAutosaveInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			if !s.streamer.HasInitialized() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.spawner.PersistPosition(ctx, s.PlayerVirtual()); err != nil {
				logging.Warn("Автосохранение позиции не удалось: %v", err)
			}
			cancel()
		}
	}
}
