package config

import (
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
// Нулевые значения полей означают "не задано": геттеры подставляют
// переменную окружения или дефолт.

type Config struct {
	World     WorldConfig     `yaml:"world"`
	Streaming StreamingConfig `yaml:"streaming"`
	Spawn     SpawnConfig     `yaml:"spawn"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Player    PlayerConfig    `yaml:"player"`
}

type WorldConfig struct {
	Width     float64 `yaml:"width"`
	Height    float64 `yaml:"height"`
	ChunkSize float64 `yaml:"chunk_size"`
	Seed      int64   `yaml:"seed"`
}

type StreamingConfig struct {
	LoadRadius      int `yaml:"load_radius"`
	KeepRadius      int `yaml:"keep_radius"`
	LoaderWorkers   int `yaml:"loader_workers"`
	LoadTimeoutMs   int `yaml:"chunk_load_timeout_ms"`
	TickRate        int `yaml:"tick_rate"`
	AutosaveSeconds int `yaml:"autosave_seconds"`
}

type SpawnConfig struct {
	SafeHeight     float64 `yaml:"safe_height"`
	FallbackHeight float64 `yaml:"fallback_height"`
	FixedOffset    float64 `yaml:"fixed_offset"`
	SettleDelayMs  int     `yaml:"settle_delay_ms"`
	SnapBelow      float64 `yaml:"snap_below"`
	SnapAbove      float64 `yaml:"snap_above"`
	DefaultHeight  float64 `yaml:"default_height"`
}

type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory|badger|redis|maria|mongo
	BadgerPath    string `yaml:"badger_path"`
	CachePath     string `yaml:"cache_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MariaDSN      string `yaml:"maria_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type PlayerConfig struct {
	ProfileID string `yaml:"profile_id"`
}

// GetWidth возвращает ширину мира по оси X
func (w *WorldConfig) GetWidth() float64 {
	return getFloatWithDefault(w.Width, 14400)
}

// GetHeight возвращает протяжённость мира по оси Z
func (w *WorldConfig) GetHeight() float64 {
	return getFloatWithDefault(w.Height, 7200)
}

// GetChunkSize возвращает размер чанка в виртуальных единицах
func (w *WorldConfig) GetChunkSize() float64 {
	return getFloatWithDefault(w.ChunkSize, 128)
}

// GetSeed возвращает сид генерации рельефа
func (w *WorldConfig) GetSeed() int64 {
	if w.Seed != 0 {
		return w.Seed
	}
	if envVal := os.Getenv("BIGWORLD_SEED"); envVal != "" {
		if seed, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			return seed
		}
	}
	return 1337
}

// GetLoadRadius возвращает радиус загрузки чанков вокруг игрока
func (s *StreamingConfig) GetLoadRadius() int {
	return getIntWithDefault(s.LoadRadius, 2)
}

// GetKeepRadius возвращает радиус удержания чанков (гистерезис выгрузки).
// Должен быть больше радиуса загрузки, иначе чанки будут дрожать на границе.
func (s *StreamingConfig) GetKeepRadius() int {
	keep := getIntWithDefault(s.KeepRadius, 4)
	if load := s.GetLoadRadius(); keep <= load {
		return load + 2
	}
	return keep
}

// GetLoaderWorkers возвращает число фоновых воркеров загрузки чанков
func (s *StreamingConfig) GetLoaderWorkers() int {
	return getIntWithDefault(s.LoaderWorkers, 4)
}

// GetLoadTimeout возвращает таймаут одной загрузки чанка
func (s *StreamingConfig) GetLoadTimeout() time.Duration {
	return time.Duration(getIntWithDefault(s.LoadTimeoutMs, 5000)) * time.Millisecond
}

// GetTickRate возвращает частоту тиков стриминга (Гц)
func (s *StreamingConfig) GetTickRate() int {
	return getIntWithDefault(s.TickRate, 20)
}

// GetAutosaveInterval возвращает период автосохранения позиции игрока
func (s *StreamingConfig) GetAutosaveInterval() time.Duration {
	return time.Duration(getIntWithDefault(s.AutosaveSeconds, 30)) * time.Second
}

// GetSafeHeight возвращает высоту парковки сущности на время позиционирования
func (s *SpawnConfig) GetSafeHeight() float64 {
	return getFloatWithDefault(s.SafeHeight, 400)
}

// GetFallbackHeight возвращает высоту на случай провала позиционирования
func (s *SpawnConfig) GetFallbackHeight() float64 {
	return getFloatWithDefault(s.FallbackHeight, 80)
}

// GetFixedOffset возвращает зазор между рельефом и сущностью
func (s *SpawnConfig) GetFixedOffset() float64 {
	return getFloatWithDefault(s.FixedOffset, 2.0)
}

// GetSettleDelay возвращает паузу перед фоновой загрузкой окружения
func (s *SpawnConfig) GetSettleDelay() time.Duration {
	return time.Duration(getIntWithDefault(s.SettleDelayMs, 250)) * time.Millisecond
}

// GetSnapBelow возвращает порог подтягивания сущности вверх к рельефу
func (s *SpawnConfig) GetSnapBelow() float64 {
	return getFloatWithDefault(s.SnapBelow, 6.0)
}

// GetSnapAbove возвращает порог мягкого опускания сущности на рельеф
func (s *SpawnConfig) GetSnapAbove() float64 {
	return getFloatWithDefault(s.SnapAbove, 0.5)
}

// GetDefaultHeight возвращает стартовую высоту при отсутствии сохранения
func (s *SpawnConfig) GetDefaultHeight() float64 {
	return getFloatWithDefault(s.DefaultHeight, 100)
}

// GetBackend возвращает бэкенд хранилища с приоритетом: config -> env -> memory
func (s *StorageConfig) GetBackend() string {
	return getStringWithEnvFallback(s.Backend, "BIGWORLD_STORAGE_BACKEND", "memory")
}

// GetBadgerPath возвращает путь к каталогу BadgerDB
func (s *StorageConfig) GetBadgerPath() string {
	return getStringWithEnvFallback(s.BadgerPath, "BIGWORLD_BADGER_PATH", "data/bigworld")
}

// GetCachePath возвращает путь к дисковому кэшу карт высот;
// пустая строка — кэш выключен
func (s *StorageConfig) GetCachePath() string {
	return getStringWithEnvFallback(s.CachePath, "BIGWORLD_CACHE_PATH", "")
}

// GetRedisAddr возвращает адрес Redis
func (s *StorageConfig) GetRedisAddr() string {
	return getStringWithEnvFallback(s.RedisAddr, "BIGWORLD_REDIS_ADDR", "localhost:6379")
}

// GetMariaDSN возвращает DSN подключения к MariaDB/MySQL
func (s *StorageConfig) GetMariaDSN() string {
	return getStringWithEnvFallback(s.MariaDSN, "BIGWORLD_MARIA_DSN", "")
}

// GetMongoURI возвращает URI подключения к MongoDB
func (s *StorageConfig) GetMongoURI() string {
	return getStringWithEnvFallback(s.MongoURI, "BIGWORLD_MONGO_URI", "mongodb://localhost:27017")
}

// GetMongoDatabase возвращает имя базы MongoDB
func (s *StorageConfig) GetMongoDatabase() string {
	return getStringWithEnvFallback(s.MongoDatabase, "BIGWORLD_MONGO_DB", "bigworld")
}

// GetURL возвращает адрес NATS; пустая строка — использовать шину в памяти
func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "BIGWORLD_NATS_URL", "")
}

// GetStream возвращает имя JetStream потока событий
func (e *EventBusConfig) GetStream() string {
	return getStringWithEnvFallback(e.Stream, "BIGWORLD_NATS_STREAM", "BIGWORLD")
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "BIGWORLD_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "BIGWORLD_METRICS_PORT", 2112)
}

// GetProfileID возвращает идентификатор профиля игрока
func (p *PlayerConfig) GetProfileID() string {
	return getStringWithEnvFallback(p.ProfileID, "BIGWORLD_PROFILE", "default")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

// getStringWithEnvFallback возвращает строку с приоритетом: config -> env -> default
func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

func getIntWithDefault(configVal, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}
	return defaultVal
}

func getFloatWithDefault(configVal, defaultVal float64) float64 {
	if configVal > 0 {
		return configVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV BIGWORLD_CONFIG или возвращает
// конфиг с нулевыми полями (работают дефолты геттеров).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("BIGWORLD_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
