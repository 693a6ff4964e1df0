package spawn

import "github.com/prometheus/client_golang/prometheus"

var (
	teleports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spawn",
		Name:      "teleports_total",
		Help:      "Количество телепортаций по результату (ok, fallback, rejected)",
	}, []string{"result"})

	originShifts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spawn",
		Name:      "origin_shifts_total",
		Help:      "Количество переносов origin мира",
	})

	positioningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spawn",
		Name:      "positioning_duration_seconds",
		Help:      "Длительность протокола позиционирования",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	terrainSnaps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spawn",
		Name:      "terrain_snaps_total",
		Help:      "Количество коррекций высоты сущности по рельефу",
	})
)

func init() {
	prometheus.MustRegister(teleports, originShifts, positioningDuration, terrainSnaps)
}
