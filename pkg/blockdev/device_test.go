package blockdev

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

const (
	testUnit = 256
	testSize = 4 * testUnit
)

func newMem(t *testing.T) *MemDevice {
	t.Helper()
	dev, err := NewMemDevice(testUnit, testSize)
	require.NoError(t, err)
	return dev
}

func TestGeometryValidate(t *testing.T) {
	tests := []struct {
		name string
		geo  Geometry
		ok   bool
	}{
		{"valid", Geometry{UnitSize: 4096, Size: 16 * 4096}, true},
		{"zero unit", Geometry{UnitSize: 0, Size: 4096}, false},
		{"unaligned unit", Geometry{UnitSize: 100, Size: 1000}, false},
		{"partial unit", Geometry{UnitSize: 4096, Size: 4096 + 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, status.ErrInvalidArgument)
			}
		})
	}
}

// exercised against both implementations
func deviceContract(t *testing.T, dev Device) {
	t.Run("starts erased", func(t *testing.T) {
		b, err := dev.Read(0, dev.UnitSize())
		require.NoError(t, err)
		assert.True(t, IsErased(b))
	})

	t.Run("program clears bits only", func(t *testing.T) {
		require.NoError(t, dev.Write(8, []byte{0xF0, 0x0F}))
		require.NoError(t, dev.Write(8, []byte{0xE0, 0x0F}))

		err := dev.Write(8, []byte{0xFF})
		assert.ErrorIs(t, err, ErrProgramViolation)
		assert.ErrorIs(t, err, status.ErrIO)

		b, err := dev.Read(8, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xE0, 0x0F}, b)
	})

	t.Run("erase restores unit", func(t *testing.T) {
		require.NoError(t, dev.Erase(0))
		b, err := dev.Read(0, dev.UnitSize())
		require.NoError(t, err)
		assert.True(t, IsErased(b))
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := dev.Read(dev.Size()-1, 2)
		assert.ErrorIs(t, err, status.ErrOutOfRange)
		assert.ErrorIs(t, dev.Write(-1, []byte{0}), status.ErrOutOfRange)
		assert.ErrorIs(t, dev.Erase(int(dev.Size()/int64(dev.UnitSize()))), status.ErrOutOfRange)
	})
}

func TestMemDevice(t *testing.T) {
	dev := newMem(t)
	deviceContract(t, dev)
	assert.Equal(t, uint64(1), dev.EraseCount(0))
	assert.Equal(t, uint64(0), dev.EraseCount(1))
}

func TestFileDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, CreateImage(path, testUnit, testSize))

	dev, err := OpenFileDevice(path, testUnit, true)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	assert.Equal(t, int64(testSize), dev.Size())
	deviceContract(t, dev)

	require.NoError(t, dev.Write(testUnit, []byte("flash")))
	require.NoError(t, dev.Close())

	reopened, err := OpenFileDevice(path, testUnit, false)
	require.NoError(t, err)
	defer reopened.Close()
	b, err := reopened.Read(testUnit, 5)
	require.NoError(t, err)
	assert.Equal(t, "flash", string(b))
}

func TestFileDevice_UseAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, CreateImage(path, testUnit, testSize))
	dev, err := OpenFileDevice(path, testUnit, false)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	_, err = dev.Read(0, 8)
	assert.ErrorIs(t, err, status.ErrIO)
	assert.ErrorIs(t, err, os.ErrClosed)

	err = dev.Write(0, []byte{0x00})
	assert.ErrorIs(t, err, os.ErrClosed)

	err = dev.Erase(0)
	assert.ErrorIs(t, err, os.ErrClosed)

	assert.NoError(t, dev.Close(), "closing twice is harmless")
}

func TestOpenFileDevice_BadGeometry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, CreateImage(path, testUnit, testSize))

	_, err := OpenFileDevice(path, 3*testUnit, false)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}

func TestFaultDevice_PowerLossTearsWrite(t *testing.T) {
	mem := newMem(t)
	dev := NewFaultDevice(mem)

	dev.CutPowerAfter(3)
	err := dev.Write(0, []byte{1, 2, 3, 4, 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPowerLoss))
	assert.True(t, dev.Dead())

	_, err = dev.Read(0, 1)
	assert.ErrorIs(t, err, ErrPowerLoss)

	dev.Restore()
	b, err := dev.Read(0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 0xFF, 0xFF}, b)
}

func TestFaultDevice_FailNth(t *testing.T) {
	dev := NewFaultDevice(newMem(t))

	dev.FailNextWrite(2)
	require.NoError(t, dev.Write(0, []byte{0}))
	err := dev.Write(1, []byte{0})
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, err, status.ErrIO)
	require.NoError(t, dev.Write(2, []byte{0}))
	assert.Equal(t, 2, dev.Writes())

	dev.FailNextErase(1)
	assert.ErrorIs(t, dev.Erase(0), ErrInjected)
	assert.NoError(t, dev.Erase(0))

	dev.FailNextRead(1)
	_, err = dev.Read(0, 1)
	assert.ErrorIs(t, err, ErrInjected)
}
