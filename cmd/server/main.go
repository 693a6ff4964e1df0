package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/bigworld/internal/api"
	"github.com/annel0/bigworld/internal/config"
	"github.com/annel0/bigworld/internal/eventbus"
	"github.com/annel0/bigworld/internal/game"
	"github.com/annel0/bigworld/internal/logging"
	"github.com/annel0/bigworld/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "Путь к YAML конфигурации (или ENV BIGWORLD_CONFIG)")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🌍 Запуск BigWorld Server (floating-origin стриминг мира)...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}

	restAddr := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	logging.Info("📡 Конфигурация: REST=%s, метрики=%s, профиль=%s, хранилище=%s",
		restAddr, metricsAddr, cfg.Player.GetProfileID(), cfg.Storage.GetBackend())

	// === TELEMETRY ===
	ctx := context.Background()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := observability.InitTelemetry(ctx, "bigworld-server")
		if err != nil {
			logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Ошибка остановки телеметрии: %v", err)
				}
			}()
		}
	}

	// === ШИНА СОБЫТИЙ ===
	// NATS JetStream при заданном URL, иначе in-memory шина
	var bus eventbus.EventBus
	var jsBus *eventbus.JetStreamBus
	if url := cfg.EventBus.GetURL(); url != "" {
		jsBus, err = eventbus.NewJetStreamBus(url, cfg.EventBus.GetStream(), 24*time.Hour)
		if err != nil {
			logging.Warn("⚠️ NATS недоступен (%v), события остаются в памяти", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = jsBus
			logging.Info("📨 Шина событий: NATS JetStream %s", url)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
		logging.Info("📨 Шина событий: in-memory")
	}
	eventbus.Init(bus)

	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Ошибка подписки лог-слушателя: %v", err)
	}

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.StartHTTP(metricsAddr)

	// === СЕССИЯ МИРА ===
	session, err := game.NewSession(cfg)
	if err != nil {
		logging.Error("❌ Ошибка создания сессии мира: %v", err)
		log.Fatalf("❌ Ошибка создания сессии мира: %v", err)
	}
	session.Start()

	// Вход в мир: сохранённая позиция профиля или центр мира
	spawnCtx, cancelSpawn := context.WithTimeout(ctx, 30*time.Second)
	res, err := session.Spawn(spawnCtx)
	cancelSpawn()
	if err != nil {
		logging.Error("❌ Ошибка спавна игрока: %v", err)
	} else if res.Grounded {
		logging.Info("✅ Игрок на рельефе: (%.1f, %.2f, %.1f)", res.Position.X, res.Position.Y, res.Position.Z)
	} else {
		logging.Warn("⚠️ Рельеф не найден, игрок на страховочной высоте %.1f", res.Position.Y)
	}

	// === REST API ===
	restServer := api.NewRestServer(api.Config{
		Port:    restAddr,
		Session: session,
		Bus:     bus,
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST сервера: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restAddr)
	logging.Info("   📊 Метрики: http://localhost%s/metrics", metricsAddr)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restAddr)
	logging.Info("💡 Примеры:")
	logging.Info("   curl http://localhost%s/debug/status", restAddr)
	logging.Info("   curl -X POST http://localhost%s/api/teleport -H 'Content-Type: application/json' -d '{\"x\":7200,\"z\":3600}'", restAddr)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := restServer.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}

	session.Stop()

	busMetrics.Stop()
	if jsBus != nil {
		jsBus.Close()
	}

	logging.Info("👋 Сервер успешно остановлен")
}
