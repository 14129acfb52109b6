package blockdev

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// ErrPowerLoss is reported by a FaultDevice once its power budget is spent.
var ErrPowerLoss = errors.New("simulated power loss")

// ErrInjected is the fault reported by FailNext* hooks.
var ErrInjected = errors.New("injected device fault")

// FaultDevice wraps a Device and injects faults. It drives the power-loss
// drills: once the byte budget runs out, the write in flight is torn (only
// its leading bytes land) and the device stays dead until Restore.
type FaultDevice struct {
	mu sync.Mutex
	Device

	budget     int64 // bytes that may still be programmed; <0 means unlimited
	dead       bool
	failWrite  int // fail the Nth next write (1-based); 0 disables
	failErase  int
	failRead   int
	writeCount int
}

// NewFaultDevice wraps dev with no faults armed.
func NewFaultDevice(dev Device) *FaultDevice {
	return &FaultDevice{Device: dev, budget: -1}
}

// CutPowerAfter arms a power loss after n more programmed bytes.
// Erases in flight when power is cut are not applied.
func (f *FaultDevice) CutPowerAfter(n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budget = n
}

// FailNextWrite makes the nth next write fail without touching the medium.
func (f *FaultDevice) FailNextWrite(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = n
}

// FailNextErase makes the nth next erase fail without touching the medium.
func (f *FaultDevice) FailNextErase(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErase = n
}

// FailNextRead makes the nth next read fail.
func (f *FaultDevice) FailNextRead(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRead = n
}

// Restore brings the device back and disarms every fault.
func (f *FaultDevice) Restore() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budget = -1
	f.dead = false
	f.failWrite, f.failErase, f.failRead = 0, 0, 0
}

// Dead reports whether the simulated power loss has happened.
func (f *FaultDevice) Dead() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead
}

// Writes returns how many writes reached the wrapped device.
func (f *FaultDevice) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCount
}

func tick(counter *int) bool {
	if *counter == 0 {
		return false
	}
	*counter--
	return *counter == 0
}

func (f *FaultDevice) Erase(unit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return status.IOError("erase", ErrPowerLoss)
	}
	if tick(&f.failErase) {
		return status.IOError(fmt.Sprintf("erase unit %d", unit), ErrInjected)
	}
	if f.budget == 0 {
		f.dead = true
		return status.IOError("erase", ErrPowerLoss)
	}
	return f.Device.Erase(unit)
}

func (f *FaultDevice) Read(offset int64, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return nil, status.IOError("read", ErrPowerLoss)
	}
	if tick(&f.failRead) {
		return nil, status.IOError(fmt.Sprintf("read 0x%x", offset), ErrInjected)
	}
	return f.Device.Read(offset, length)
}

func (f *FaultDevice) Write(offset int64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return status.IOError("write", ErrPowerLoss)
	}
	if tick(&f.failWrite) {
		return status.IOError(fmt.Sprintf("write 0x%x", offset), ErrInjected)
	}
	if f.budget >= 0 && int64(len(data)) > f.budget {
		torn := data[:f.budget]
		f.dead = true
		if len(torn) > 0 {
			if err := f.Device.Write(offset, torn); err != nil {
				return err
			}
		}
		return status.IOError("write", ErrPowerLoss)
	}
	if f.budget >= 0 {
		f.budget -= int64(len(data))
	}
	f.writeCount++
	return f.Device.Write(offset, data)
}

var _ Device = (*FaultDevice)(nil)
