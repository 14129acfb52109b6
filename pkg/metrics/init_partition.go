package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPartitionMetrics() {
	r.PartitionInitialized = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashkv_partition_initialized",
			Help: "1 when the partition is mounted",
		},
		[]string{"partition"},
	)

	r.PartitionUsedBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashkv_partition_used_bytes",
			Help: "Bytes held by live records",
		},
		[]string{"partition"},
	)

	r.PartitionFreeBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashkv_partition_free_bytes",
			Help: "Bytes available to new records after reclamation",
		},
		[]string{"partition"},
	)

	r.PartitionDeadBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashkv_partition_dead_bytes",
			Help: "Bytes held by superseded or erased records",
		},
		[]string{"partition"},
	)

	r.PartitionEntries = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashkv_partition_entries",
			Help: "Live keys in the partition",
		},
		[]string{"partition"},
	)
}
