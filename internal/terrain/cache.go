package terrain

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/vec"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "terrain",
		Name:      "heightmap_cache_hits_total",
		Help:      "Карт высот, прочитанных из дискового кэша.",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "terrain",
		Name:      "heightmap_cache_misses_total",
		Help:      "Карт высот, сгенерированных заново из-за промаха кэша.",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses)
}

// CachedProvider оборачивает Provider дисковым кэшем карт высот.
// Карты хранятся в BadgerDB в JSON, сжатом zstd. Сид входит в ключ:
// кэш от другого сида просто не находится, без инвалидации.
type CachedProvider struct {
	inner Provider
	seed  int64

	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewCachedProvider открывает кэш в каталоге dataPath
func NewCachedProvider(inner Provider, dataPath string, seed int64) (*CachedProvider, error) {
	dbPath := filepath.Join(dataPath, "heightmaps")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть кэш карт высот: %w", err)
	}

	compressor, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd компрессор: %w", err)
	}

	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		compressor.Close()
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd декомпрессор: %w", err)
	}

	return &CachedProvider{
		inner:        inner,
		seed:         seed,
		db:           db,
		isReady:      true,
		compressor:   compressor,
		decompressor: decompressor,
	}, nil
}

// Close закрывает кэш вместе с воркерами zstd
func (cp *CachedProvider) Close() error {
	cp.mutex.Lock()
	defer cp.mutex.Unlock()

	if !cp.isReady {
		return nil
	}
	cp.isReady = false

	if err := cp.compressor.Close(); err != nil {
		logging.Warn("Ошибка закрытия zstd компрессора: %v", err)
	}
	cp.decompressor.Close()

	return cp.db.Close()
}

// BuildHeightmap возвращает карту высот из кэша или строит её через
// вложенный провайдер. Ошибки кэша не считаются ошибками загрузки:
// при сбое чтения или записи карта просто генерируется заново.
func (cp *CachedProvider) BuildHeightmap(ctx context.Context, coord vec.Vec2) (*Heightmap, error) {
	if hm := cp.lookup(coord); hm != nil {
		cacheHits.Inc()
		return hm, nil
	}
	cacheMisses.Inc()

	hm, err := cp.inner.BuildHeightmap(ctx, coord)
	if err != nil {
		return nil, err
	}

	cp.store(coord, hm)
	return hm, nil
}

func (cp *CachedProvider) key(coord vec.Vec2) []byte {
	return []byte(fmt.Sprintf("hmap:%d:%d:%d", cp.seed, coord.X, coord.Y))
}

func (cp *CachedProvider) lookup(coord vec.Vec2) *Heightmap {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()

	if !cp.isReady {
		return nil
	}

	var data []byte
	err := cp.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cp.key(coord))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		logging.Warn("Ошибка чтения кэша карты высот %v: %v", coord, err)
		return nil
	}

	decompressed, err := cp.decompressor.DecodeAll(data, nil)
	if err != nil {
		logging.Warn("Повреждённая запись кэша карты высот %v: %v", coord, err)
		return nil
	}

	var hm Heightmap
	if err := json.Unmarshal(decompressed, &hm); err != nil {
		logging.Warn("Ошибка десериализации карты высот %v: %v", coord, err)
		return nil
	}

	return &hm
}

func (cp *CachedProvider) store(coord vec.Vec2, hm *Heightmap) {
	cp.mutex.RLock()
	defer cp.mutex.RUnlock()

	if !cp.isReady {
		return
	}

	data, err := json.Marshal(hm)
	if err != nil {
		logging.Warn("Ошибка сериализации карты высот %v: %v", coord, err)
		return
	}

	compressed := cp.compressor.EncodeAll(data, nil)

	err = cp.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cp.key(coord), compressed)
	})
	if err != nil {
		logging.Warn("Ошибка записи кэша карты высот %v: %v", coord, err)
	}
}
