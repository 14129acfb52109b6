package health

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// LowSpaceRatio is the free-space share below which a partition is degraded.
const LowSpaceRatio = 0.10

// PartitionCheck reports a key-value partition as unhealthy while it is not
// mounted and degraded when free space runs low.
func PartitionCheck(name string, info func() (recordlog.Info, error)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "partition:" + name,
			Details: make(map[string]any),
		}

		i, err := info()
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			check.Details["status"] = status.CodeOf(err).String()
			return check
		}

		check.Details["entries_used"] = i.Entries.Used
		check.Details["entries_free"] = i.Entries.Free
		check.Details["free_bytes"] = i.Free
		check.Details["dead_bytes"] = i.Dead
		check.Details["read_only"] = i.ReadOnly

		freeRatio := 1 - i.UsedRatio()
		switch {
		case i.ReadOnly:
			check.Status = StatusHealthy
			check.Message = "Read-only partition mounted"
		case freeRatio < LowSpaceRatio:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Low free space (%.0f%%)", freeRatio*100)
		default:
			check.Status = StatusHealthy
			check.Message = "Mounted"
		}
		return check
	}
}

// DeviceCheck probes the device with a small read.
func DeviceCheck(probe func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "device"}
		if err := probe(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			if errors.Is(err, status.ErrIO) {
				check.Message = "Device I/O failure: " + err.Error()
			}
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Device readable"
		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
