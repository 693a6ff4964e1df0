package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/annel0/bigworld/internal/storage"
)

const defaultNatsURL = "nats://localhost:4222"

func main() {
	var (
		command    = flag.String("cmd", "tail", "Команда: tail, pos, clear-pos")
		natsURL    = flag.String("nats", defaultNatsURL, "Адрес NATS сервера")
		eventTypes = flag.String("types", "", "Фильтр типов событий через запятую (world.chunk_ready,world.teleport)")
		backend    = flag.String("backend", "badger", "Бэкенд хранилища: memory, badger, redis, maria, mongo")
		badgerPath = flag.String("badger", "data/records", "Путь к badger хранилищу")
		redisAddr  = flag.String("redis", "localhost:6379", "Адрес Redis")
		mariaDSN   = flag.String("maria", "", "DSN MariaDB")
		mongoURI   = flag.String("mongo", "", "URI MongoDB")
		profile    = flag.String("profile", "default", "ID профиля игрока")
	)
	flag.Parse()

	switch *command {
	case "tail":
		if err := tailEvents(*natsURL, parseStringList(*eventTypes)); err != nil {
			log.Fatalf("❌ Tail не удался: %v", err)
		}

	case "pos":
		if err := showPosition(*backend, *badgerPath, *redisAddr, *mariaDSN, *mongoURI, *profile); err != nil {
			log.Fatalf("❌ Чтение позиции не удалось: %v", err)
		}

	case "clear-pos":
		if err := clearPosition(*backend, *badgerPath, *redisAddr, *mariaDSN, *mongoURI, *profile); err != nil {
			log.Fatalf("❌ Сброс позиции не удался: %v", err)
		}

	default:
		fmt.Printf("❌ Неизвестная команда: %s\n", *command)
		fmt.Println("Доступные команды: tail, pos, clear-pos")
		os.Exit(1)
	}
}

// tailEvents подписывается на события мира в NATS и печатает их до Ctrl+C
func tailEvents(url string, types []string) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("подключение к NATS: %w", err)
	}
	defer nc.Drain()

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	sub, err := nc.Subscribe("events.>", func(msg *nats.Msg) {
		var ev struct {
			ID        string          `json:"ID"`
			Timestamp time.Time       `json:"Timestamp"`
			Source    string          `json:"Source"`
			EventType string          `json:"EventType"`
			Payload   json.RawMessage `json:"Payload"`
		}
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			fmt.Printf("⚠️ Нечитаемое событие на %s: %v\n", msg.Subject, err)
			return
		}
		if len(wanted) > 0 && !wanted[ev.EventType] {
			return
		}
		fmt.Printf("[%s] %-22s src=%-6s %s\n",
			ev.Timestamp.Format("15:04:05.000"), ev.EventType, ev.Source, string(ev.Payload))
	})
	if err != nil {
		return fmt.Errorf("подписка: %w", err)
	}
	defer sub.Unsubscribe()

	fmt.Printf("🎬 Слушаю события мира на %s (фильтр: %v), Ctrl+C для выхода\n", url, types)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

// showPosition печатает сохранённую позицию профиля из выбранного бэкенда
func showPosition(backend, badgerPath, redisAddr, mariaDSN, mongoURI, profile string) error {
	positions, closeFn, err := openPositionStore(backend, badgerPath, redisAddr, mariaDSN, mongoURI)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pos, err := positions.Load(ctx, profile)
	if err != nil {
		return err
	}
	if pos == nil {
		fmt.Printf("Профиль %s: сохранённой позиции нет\n", profile)
		return nil
	}

	fmt.Printf("Профиль %s:\n", profile)
	fmt.Printf("  нормализованная позиция: (%.4f, %.4f)\n", pos.X, pos.Z)
	if pos.SavedAt.IsZero() {
		fmt.Println("  сохранена: запись старого формата, без метки времени")
	} else {
		fmt.Printf("  сохранена: %s\n", pos.SavedAt.Format(time.RFC3339))
	}
	return nil
}

// clearPosition сбрасывает сохранённую позицию профиля
func clearPosition(backend, badgerPath, redisAddr, mariaDSN, mongoURI, profile string) error {
	positions, closeFn, err := openPositionStore(backend, badgerPath, redisAddr, mariaDSN, mongoURI)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := positions.Clear(ctx, profile); err != nil {
		return err
	}
	fmt.Printf("Позиция профиля %s сброшена\n", profile)
	return nil
}

func openPositionStore(backend, badgerPath, redisAddr, mariaDSN, mongoURI string) (*storage.PositionStore, func(), error) {
	records, err := storage.NewRecordStore(backend, storage.Options{
		BadgerPath:    badgerPath,
		RedisAddr:     redisAddr,
		MariaDSN:      mariaDSN,
		MongoURI:      mongoURI,
		MongoDatabase: "bigworld",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("бэкенд %s: %w", backend, err)
	}

	closeFn := func() {
		if err := records.Close(); err != nil {
			fmt.Printf("⚠️ Ошибка закрытия хранилища: %v\n", err)
		}
	}
	return storage.NewPositionStore(records), closeFn, nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
