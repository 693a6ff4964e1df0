package storage

import (
	"context"
	"fmt"

	"github.com/annel0/bigworld/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisOptions содержит настройки подключения к Redis
type RedisOptions struct {
	Addr     string // Адрес Redis сервера
	Password string // Пароль (пустой если не требуется)
	DB       int    // Номер базы данных
}

// RedisRecordStore реализует RecordStore поверх Redis.
// Записи хранятся без TTL: сохранённые позиции должны переживать
// любые паузы между сессиями.
type RedisRecordStore struct {
	client *redis.Client
}

// NewRedisRecordStore создаёт хранилище и проверяет подключение
func NewRedisRecordStore(opts RedisOptions) (*RedisRecordStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Проверяем подключение
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	logging.Info("🔴 Подключение к Redis установлено: %s", opts.Addr)
	return &RedisRecordStore{client: client}, nil
}

// Get читает запись по ключу
func (r *RedisRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из Redis: %w", err)
	}
	return data, nil
}

// Put записывает запись без TTL
func (r *RedisRecordStore) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("ошибка сохранения в Redis: %w", err)
	}
	return nil
}

// Delete удаляет запись. Отсутствующий ключ не считается ошибкой.
func (r *RedisRecordStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ошибка удаления из Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRecordStore) Close() error {
	return r.client.Close()
}
