package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOptions содержит настройки подключения к MongoDB
type MongoOptions struct {
	URI        string // Например mongodb://localhost:27017
	Database   string // Имя базы
	Collection string // Имя коллекции записей
}

// MongoRecordStore реализует RecordStore поверх MongoDB.
// Записи хранятся документами вида {_id: key, value: <bytes>, updated_at: ...}.
type MongoRecordStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoRecordStore устанавливает соединение и возвращает хранилище
func NewMongoRecordStore(opts MongoOptions) (*MongoRecordStore, error) {
	if opts.URI == "" {
		opts.URI = "mongodb://localhost:27017"
	}
	if opts.Database == "" {
		opts.Database = "bigworld"
	}
	if opts.Collection == "" {
		opts.Collection = "records"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	return &MongoRecordStore{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		ctxTimeout: 5 * time.Second,
	}, nil
}

// Get читает запись по ключу
func (m *MongoRecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc struct {
		Value []byte `bson:"value"`
	}

	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи %s: %w", key, err)
	}

	return doc.Value, nil
}

// Put записывает запись через upsert по _id
func (m *MongoRecordStore) Put(ctx context.Context, key string, value []byte) error {
	update := bson.M{"$set": bson.M{
		"value":      value,
		"updated_at": time.Now().UTC(),
	}}

	_, err := m.collection.UpdateOne(ctx, bson.M{"_id": key}, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", key, err)
	}

	return nil
}

// Delete удаляет запись. Отсутствующий ключ не считается ошибкой.
func (m *MongoRecordStore) Delete(ctx context.Context, key string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", key, err)
	}
	return nil
}

// Close разрывает соединение
func (m *MongoRecordStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
