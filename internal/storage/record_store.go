package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrRecordNotFound возвращается при чтении отсутствующего ключа
var ErrRecordNotFound = errors.New("запись не найдена")

// RecordStore определяет интерфейс KV-хранилища JSON записей.
// Записи привязаны к строковым ключам; формат значения — дело вызывающего.
// Реализации обязаны отображать "ключ не найден" своего бэкенда в
// ErrRecordNotFound.
type RecordStore interface {
	// Get читает запись по ключу.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put записывает запись, перезаписывая существующую.
	Put(ctx context.Context, key string, value []byte) error

	// Delete удаляет запись. Удаление отсутствующего ключа не ошибка:
	// вызывающие используют Delete для сброса повреждённых записей.
	Delete(ctx context.Context, key string) error

	// Close закрывает хранилище.
	Close() error
}

// Options параметры подключения бэкендов хранилища
type Options struct {
	BadgerPath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MariaDSN      string
	MongoURI      string
	MongoDatabase string
}

// NewRecordStore создаёт хранилище указанного бэкенда.
// Пустой backend означает хранилище в памяти.
func NewRecordStore(backend string, opts Options) (RecordStore, error) {
	switch backend {
	case "", "memory":
		return NewMemoryRecordStore(), nil
	case "badger":
		return NewBadgerRecordStore(opts.BadgerPath)
	case "redis":
		return NewRedisRecordStore(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	case "maria", "mysql":
		return NewMariaRecordStore(opts.MariaDSN)
	case "mongo":
		return NewMongoRecordStore(MongoOptions{
			URI:      opts.MongoURI,
			Database: opts.MongoDatabase,
		})
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", backend)
	}
}
