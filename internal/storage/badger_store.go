package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// BadgerRecordStore реализует RecordStore поверх встраиваемой BadgerDB.
// Подходит для одиночного сервера без внешних зависимостей.
type BadgerRecordStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerRecordStore открывает хранилище в каталоге dataPath
func NewBadgerRecordStore(dataPath string) (*BadgerRecordStore, error) {
	dbPath := filepath.Join(dataPath, "records")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerRecordStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Get читает запись по ключу
func (r *BadgerRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return data, nil
}

// Put записывает запись
func (r *BadgerRecordStore) Put(ctx context.Context, key string, value []byte) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	return nil
}

// Delete удаляет запись. Отсутствующий ключ не считается ошибкой.
func (r *BadgerRecordStore) Delete(ctx context.Context, key string) error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}

	return nil
}

// Close закрывает хранилище
func (r *BadgerRecordStore) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}

	r.isReady = false
	return r.db.Close()
}
