package storage

import (
	"context"
	"sync"
)

// MemoryRecordStore реализует RecordStore в памяти.
// Используется как fallback, когда внешняя БД недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryRecordStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryRecordStore создаёт новое хранилище в памяти
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		data: make(map[string][]byte),
	}
}

// Get читает запись по ключу
func (r *MemoryRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	// Проверяем контекст на отмену
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	value, exists := r.data[key]
	if !exists {
		return nil, ErrRecordNotFound
	}

	// Возвращаем копию, чтобы вызывающий не мог изменить хранимое значение
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put записывает запись
func (r *MemoryRecordStore) Put(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = stored
	return nil
}

// Delete удаляет запись. Отсутствующий ключ не считается ошибкой.
func (r *MemoryRecordStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

// Close ничего не делает для хранилища в памяти
func (r *MemoryRecordStore) Close() error {
	return nil
}

// Count возвращает количество записей (для отладки)
func (r *MemoryRecordStore) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear очищает все записи (для тестов)
func (r *MemoryRecordStore) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string][]byte)
}
