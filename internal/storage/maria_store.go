package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaRecordStore реализует RecordStore для базы данных MariaDB/MySQL.
// Использует таблицу world_records для хранения записей.
type MariaRecordStore struct {
	db *sql.DB
}

// NewMariaRecordStore создает новое хранилище для MariaDB.
// Автоматически создает таблицу, если она не существует.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaRecordStore(dsn string) (*MariaRecordStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MariaRecordStore{db: db}

	// Создаем таблицу, если она не существует
	if err := store.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}

	return store, nil
}

// createTable создает таблицу world_records, если она не существует.
func (r *MariaRecordStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS world_records (
			record_key   VARCHAR(191) PRIMARY KEY,
			record_value MEDIUMBLOB   NOT NULL,
			updated_at   TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			             ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_updated_at (updated_at)
		) ENGINE=InnoDB
	`

	_, err := r.db.Exec(query)
	if err != nil {
		return fmt.Errorf("ошибка создания таблицы world_records: %w", err)
	}

	return nil
}

// Get читает запись по ключу
func (r *MariaRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT record_value FROM world_records WHERE record_key = ?`

	var value []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", key, err)
	}

	return value, nil
}

// Put записывает запись.
// Использует INSERT ... ON DUPLICATE KEY UPDATE для обновления существующих записей.
func (r *MariaRecordStore) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO world_records (record_key, record_value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			record_value = VALUES(record_value),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", key, err)
	}

	return nil
}

// Delete удаляет запись. Отсутствующий ключ не считается ошибкой.
func (r *MariaRecordStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM world_records WHERE record_key = ?`

	_, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", key, err)
	}

	return nil
}

// Close закрывает соединение с базой данных.
func (r *MariaRecordStore) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
