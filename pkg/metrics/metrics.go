package metrics

import (
	"runtime"
	"time"

	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the size of an HTTP response body
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

func (r *Registry) IncHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Inc() }
func (r *Registry) DecHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Dec() }

// RecordOperation records one partition operation and its outcome
func (r *Registry) RecordOperation(partition, operation, status string, duration time.Duration) {
	r.OperationsTotal.WithLabelValues(partition, operation, status).Inc()
	r.OperationDuration.WithLabelValues(partition, operation).Observe(duration.Seconds())
}

// UpdatePartition refreshes the occupancy gauges of a partition
func (r *Registry) UpdatePartition(info recordlog.Info) {
	r.PartitionInitialized.WithLabelValues(info.Name).Set(1)
	r.PartitionUsedBytes.WithLabelValues(info.Name).Set(float64(info.Valid))
	r.PartitionFreeBytes.WithLabelValues(info.Name).Set(float64(info.Free))
	r.PartitionDeadBytes.WithLabelValues(info.Name).Set(float64(info.Dead))
	r.PartitionEntries.WithLabelValues(info.Name).Set(float64(info.Entries.Used))
}

// UpdateSystemMetrics samples runtime statistics
func (r *Registry) UpdateSystemMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.UptimeSeconds.Set(time.Since(r.started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

// Observer adapts the registry to the engine's event hooks
func (r *Registry) Observer() recordlog.Observer {
	return engineObserver{r}
}

type engineObserver struct {
	r *Registry
}

func (o engineObserver) BytesWritten(partition string, n int) {
	o.r.BytesProgrammed.WithLabelValues(partition).Add(float64(n))
}

func (o engineObserver) UnitErased(partition string) {
	o.r.UnitErasesTotal.WithLabelValues(partition).Inc()
}

func (o engineObserver) Reclaimed(partition string, relocated int, elapsed time.Duration) {
	o.r.ReclaimsTotal.WithLabelValues(partition).Inc()
	o.r.RelocatedRecords.WithLabelValues(partition).Add(float64(relocated))
	o.r.ReclaimDuration.WithLabelValues(partition).Observe(elapsed.Seconds())
}

func (o engineObserver) Recovered(partition string, repairs int) {
	o.r.RecoveryRepairs.WithLabelValues(partition).Add(float64(repairs))
}
