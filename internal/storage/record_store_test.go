package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryRecordStore_RoundTrip(t *testing.T) {
	// Тест базовых операций хранилища в памяти
	store := NewMemoryRecordStore()
	defer store.Close()
	ctx := context.Background()

	// Чтение отсутствующего ключа
	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// Запись и чтение
	assert.NoError(t, store.Put(ctx, "k1", []byte(`{"a":1}`)))
	data, err := store.Get(ctx, "k1")
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), data)

	// Перезапись
	assert.NoError(t, store.Put(ctx, "k1", []byte(`{"a":2}`)))
	data, err = store.Get(ctx, "k1")
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), data)

	// Удаление идемпотентно
	assert.NoError(t, store.Delete(ctx, "k1"))
	assert.NoError(t, store.Delete(ctx, "k1"))
	_, err = store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryRecordStore_CopiesValues(t *testing.T) {
	// Тест изоляции: изменение буфера вызывающего не трогает хранилище
	store := NewMemoryRecordStore()
	ctx := context.Background()

	buf := []byte("original")
	assert.NoError(t, store.Put(ctx, "k", buf))
	buf[0] = 'X'

	data, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, []byte("original"), data)

	// И наоборот: изменение прочитанного не трогает хранимое
	data[0] = 'Y'
	again, err := store.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestBadgerRecordStore_RoundTrip(t *testing.T) {
	// Тест встраиваемого хранилища BadgerDB
	store, err := NewBadgerRecordStore(t.TempDir())
	assert.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.NoError(t, store.Put(ctx, "bigworld:pos:alice", []byte(`{"x":0.5}`)))
	data, err := store.Get(ctx, "bigworld:pos:alice")
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"x":0.5}`), data)

	assert.NoError(t, store.Delete(ctx, "bigworld:pos:alice"))
	_, err = store.Get(ctx, "bigworld:pos:alice")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// Хранилище отказывает после закрытия
	assert.NoError(t, store.Close())
	_, err = store.Get(ctx, "any")
	assert.Error(t, err)
}

func TestNewRecordStore_Backends(t *testing.T) {
	// Тест фабрики бэкендов
	store, err := NewRecordStore("memory", Options{})
	assert.NoError(t, err)
	assert.IsType(t, &MemoryRecordStore{}, store)

	store, err = NewRecordStore("", Options{})
	assert.NoError(t, err)
	assert.IsType(t, &MemoryRecordStore{}, store)

	store, err = NewRecordStore("badger", Options{BadgerPath: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &BadgerRecordStore{}, store)
	store.Close()

	_, err = NewRecordStore("cassandra", Options{})
	assert.Error(t, err, "неизвестный бэкенд должен отклоняться")
}
