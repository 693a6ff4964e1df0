package world

import "github.com/prometheus/client_golang/prometheus"

var (
	chunkRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "chunk_requests_total",
		Help:      "Запросов загрузки чанков.",
	})
	chunkLoadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "chunk_load_failures_total",
		Help:      "Провалившихся загрузок чанков (ошибки и таймауты).",
	})
	chunkEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "chunk_evictions_total",
		Help:      "Выгруженных чанков (без учёта массовой очистки).",
	})
	staleLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "world",
		Name:      "stale_loads_discarded_total",
		Help:      "Результатов загрузки, отброшенных из-за выгрузки или смены поколения.",
	})
	chunksResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "world",
		Name:      "chunks_resident",
		Help:      "Текущее число резидентных чанков.",
	})
	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "world",
		Name:      "chunk_load_duration_seconds",
		Help:      "Длительность загрузки чанка от запроса до готовности.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

func init() {
	prometheus.MustRegister(chunkRequests, chunkLoadFailures, chunkEvictions,
		staleLoads, chunksResident, loadDuration)
}
