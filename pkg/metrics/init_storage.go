package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEngineMetrics() {
	r.OperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_operations_total",
			Help: "Total number of partition operations by outcome",
		},
		[]string{"partition", "operation", "status"},
	)

	r.OperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flashkv_operation_duration_seconds",
			Help:    "Partition operation duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"partition", "operation"},
	)

	r.BytesProgrammed = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_bytes_programmed_total",
			Help: "Record bytes programmed to flash",
		},
		[]string{"partition"},
	)

	r.UnitErasesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_unit_erases_total",
			Help: "Erase-unit erases issued",
		},
		[]string{"partition"},
	)

	r.ReclaimsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_reclaims_total",
			Help: "Units reclaimed by relocating their live records",
		},
		[]string{"partition"},
	)

	r.RelocatedRecords = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_relocated_records_total",
			Help: "Records copied during reclamation",
		},
		[]string{"partition"},
	)

	r.ReclaimDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flashkv_reclaim_duration_seconds",
			Help:    "Time spent reclaiming one unit",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"partition"},
	)

	r.RecoveryRepairs = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashkv_recovery_repairs_total",
			Help: "Interrupted operations repaired while mounting a partition",
		},
		[]string{"partition"},
	)
}
