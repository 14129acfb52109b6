package recordlog

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

const testUnit = 256

func newDev(t *testing.T, units int) *blockdev.MemDevice {
	t.Helper()
	dev, err := blockdev.NewMemDevice(testUnit, int64(units*testUnit))
	require.NoError(t, err)
	return dev
}

func openLog(t *testing.T, dev blockdev.Device, opts Options) *Log {
	t.Helper()
	l, err := Open(dev, Region{Name: "nvs", Offset: 0, Size: dev.Size()}, opts)
	require.NoError(t, err)
	return l
}

func value(n int, seed byte) []byte {
	v := make([]byte, n)
	for i := range v {
		v[i] = seed + byte(i)
	}
	return v
}

func TestLog_NeverWrittenKey(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	size, found, err := l.Stat("cfg", "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, size)

	_, err = l.Read("cfg", "missing", 3)
	assert.ErrorIs(t, err, status.ErrKeyNotFound)

	err = l.Delete("cfg", "missing")
	assert.ErrorIs(t, err, status.ErrKeyNotFound)
}

func TestLog_WriteReadOverwrite(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	require.NoError(t, l.Write("cfg", "blob", []byte{1, 2, 3}))
	size, found, err := l.Stat("cfg", "blob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 3, size)

	got, err := l.Read("cfg", "blob", size)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = l.Read("cfg", "blob", 4)
	assert.ErrorIs(t, err, status.ErrSizeMismatch)

	require.NoError(t, l.Write("cfg", "blob", []byte("longer payload")))
	got, err = l.Get("cfg", "blob")
	require.NoError(t, err)
	assert.Equal(t, []byte("longer payload"), got)
	assert.Equal(t, 1, l.Info().Entries.Used)
}

func TestLog_ZeroLengthValueIsPresent(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	require.NoError(t, l.Write("cfg", "empty", nil))
	size, found, err := l.Stat("cfg", "empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, size)

	got, err := l.Read("cfg", "empty", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLog_ArgumentValidation(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	tests := []struct {
		name    string
		ns, key string
		value   []byte
	}{
		{"empty namespace", "", "k", nil},
		{"empty key", "ns", "", nil},
		{"long namespace", "sixteen-bytes-ns", "k", nil},
		{"long key", "ns", "sixteen-bytes-ky", nil},
		{"value larger than a unit", "ns", "k", make([]byte, testUnit)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Write(tt.ns, tt.key, tt.value)
			assert.ErrorIs(t, err, status.ErrInvalidArgument)
			assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
		})
	}

	// The largest value that fits is accepted.
	require.NoError(t, l.Write("fifteen-byte-ns", "fifteen-byte-ky", make([]byte, l.MaxValueSize())))
}

func TestLog_NamespacesAreIsolated(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	require.NoError(t, l.Write("a", "k", []byte("from a")))
	require.NoError(t, l.Write("b", "k", []byte("from b")))

	got, err := l.Get("a", "k")
	require.NoError(t, err)
	assert.Equal(t, "from a", string(got))

	n, err := l.DeleteNamespace("b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, _ := l.Stat("b", "k")
	assert.False(t, found)
	_, found, _ = l.Stat("a", "k")
	assert.True(t, found)
	assert.Equal(t, []string{"a"}, l.Namespaces())
	assert.Equal(t, []string{"k"}, l.Keys("a"))
}

func TestLog_PersistsAcrossReopen(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{})
	require.NoError(t, l.Write("cfg", "a", []byte("one")))
	require.NoError(t, l.Write("cfg", "b", []byte("two")))
	require.NoError(t, l.Write("cfg", "a", []byte("three")))
	require.NoError(t, l.Delete("cfg", "b"))

	l = openLog(t, dev, Options{})
	got, err := l.Get("cfg", "a")
	require.NoError(t, err)
	assert.Equal(t, "three", string(got))
	_, found, _ := l.Stat("cfg", "b")
	assert.False(t, found)
	assert.Zero(t, l.Info().Counters.Repairs)

	// Sequence numbers keep growing after a remount.
	require.NoError(t, l.Write("cfg", "a", []byte("four")))
	l = openLog(t, dev, Options{})
	got, err = l.Get("cfg", "a")
	require.NoError(t, err)
	assert.Equal(t, "four", string(got))
}

func TestLog_ReclaimUnderChurn(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{})

	want := map[string][]byte{}
	for round := 0; round < 50; round++ {
		for k := 0; k < 4; k++ {
			key := fmt.Sprintf("k%d", k)
			v := value(40, byte(round*4+k))
			require.NoError(t, l.Write("ns", key, v), "round %d key %s", round, key)
			want[key] = v
		}
	}

	for key, v := range want {
		got, err := l.Read("ns", key, len(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	info := l.Info()
	assert.Greater(t, info.Counters.Reclaims, uint64(0))
	assert.GreaterOrEqual(t, info.Units.Empty, 1, "a reserved unit must stay erased")

	// Round-robin activation spreads erases over every unit.
	for u := 0; u < 4; u++ {
		assert.Greater(t, dev.EraseCount(u), uint64(0), "unit %d never erased", u)
	}

	l = openLog(t, dev, Options{})
	for key, v := range want {
		got, err := l.Get("ns", key)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestLog_PartitionFull(t *testing.T) {
	l := openLog(t, newDev(t, 4), Options{})

	var written []string
	var err error
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%02d", i)
		if err = l.Write("ns", key, value(40, byte(i))); err != nil {
			break
		}
		written = append(written, key)
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrPartitionFull)
	assert.GreaterOrEqual(t, len(written), 6)

	for i, key := range written {
		got, err := l.Get("ns", key)
		require.NoError(t, err)
		assert.Equal(t, value(40, byte(i)), got)
	}

	// Deleting makes room again.
	require.NoError(t, l.Delete("ns", written[0]))
	require.NoError(t, l.Delete("ns", written[1]))
	require.NoError(t, l.Write("ns", "late", value(40, 0xAA)))
}

func TestLog_Compact(t *testing.T) {
	dev := newDev(t, 6)
	l := openLog(t, dev, Options{})

	for i := 0; i < 8; i++ {
		require.NoError(t, l.Write("ns", fmt.Sprintf("k%d", i), value(40, byte(i))))
	}
	for i := 0; i < 8; i += 2 {
		require.NoError(t, l.Delete("ns", fmt.Sprintf("k%d", i)))
	}
	before := l.Info()
	require.Greater(t, before.Dead, int64(0))

	require.NoError(t, l.Compact())

	after := l.Info()
	assert.Less(t, after.Dead, before.Dead)
	assert.Equal(t, before.Valid, after.Valid)
	for i := 1; i < 8; i += 2 {
		got, err := l.Get("ns", fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Equal(t, value(40, byte(i)), got)
	}
}

func TestLog_Format(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{})
	require.NoError(t, l.Write("ns", "k", []byte("v")))

	require.NoError(t, l.Format())
	_, found, err := l.Stat("ns", "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, blockdev.IsErased(dev.Snapshot()))

	// Still mounted.
	require.NoError(t, l.Write("ns", "k", []byte("again")))
}

func TestLog_FormatFailureMatchesFlash(t *testing.T) {
	mem := newDev(t, 6)
	fd := blockdev.NewFaultDevice(mem)
	l := openLog(t, fd, Options{})
	for i := 0; i < 12; i++ {
		require.NoError(t, l.Write("ns", fmt.Sprintf("k%02d", i), value(24, byte(i))))
	}
	require.Greater(t, l.Info().Units.Full, 0)

	// The first unit erases, the second fails.
	fd.FailNextErase(2)
	err := l.Format()
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrIO)

	// What the mounted log reports is what a remount finds.
	fresh := openLog(t, mem, Options{ReadOnly: true})
	got, want := l.Info(), fresh.Info()
	assert.Equal(t, want.Entries.Used, got.Entries.Used)
	assert.Equal(t, want.Valid, got.Valid)
	assert.Equal(t, fresh.Keys("ns"), l.Keys("ns"))
	for _, key := range l.Keys("ns") {
		v, err := l.Get("ns", key)
		require.NoError(t, err, key)
		fv, err := fresh.Get("ns", key)
		require.NoError(t, err, key)
		assert.Equal(t, fv, v, key)
	}

	fd.Restore()
	require.NoError(t, l.Format())
	assert.Zero(t, l.Info().Entries.Used)
	assert.Zero(t, l.Info().Valid)
	assert.True(t, blockdev.IsErased(mem.Snapshot()))
	require.NoError(t, l.Write("ns", "k", []byte("after")))
}

func TestLog_RescanWhileWriting(t *testing.T) {
	dev := newDev(t, 8)
	l := openLog(t, dev, Options{})

	const writes = 300
	last := make(map[string]string)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			key := fmt.Sprintf("k%d", i%5)
			val := fmt.Sprintf("value-%04d", i)
			if err := l.Write("ns", key, []byte(val)); err != nil {
				t.Errorf("write %d: %v", i, err)
				return
			}
			last[key] = val
		}
	}()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Rescan())
	}
	wg.Wait()

	require.NoError(t, l.Rescan())
	for key, want := range last {
		got, err := l.Get("ns", key)
		require.NoError(t, err, key)
		assert.Equal(t, want, string(got), key)
	}
	assert.Zero(t, l.Info().Counters.Repairs, "nothing was interrupted")

	reopened := openLog(t, dev, Options{})
	for key, want := range last {
		got, err := reopened.Get("ns", key)
		require.NoError(t, err, key)
		assert.Equal(t, want, string(got), key)
	}
}

func TestLog_Compression(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{Compress: true})

	v := bytes.Repeat([]byte("flash"), 30)
	require.NoError(t, l.Write("ns", "k", v))
	size, _, _ := l.Stat("ns", "k")
	assert.Equal(t, len(v), size)
	assert.Less(t, l.Info().Valid, int64(len(v)))

	// Incompressible values are stored raw.
	require.NoError(t, l.Write("ns", "raw", []byte{0x01, 0x02}))

	l = openLog(t, dev, Options{})
	got, err := l.Read("ns", "k", len(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
	got, err = l.Get("ns", "raw")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)
}

func TestLog_ReadOnly(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{})
	require.NoError(t, l.Write("ns", "k", []byte("v")))

	ro := openLog(t, dev, Options{ReadOnly: true})
	got, err := ro.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	assert.ErrorIs(t, ro.Write("ns", "k", nil), status.ErrReadOnly)
	assert.ErrorIs(t, ro.Delete("ns", "k"), status.ErrReadOnly)
	assert.ErrorIs(t, ro.Format(), status.ErrReadOnly)
	assert.ErrorIs(t, ro.Compact(), status.ErrReadOnly)
	_, err = ro.DeleteNamespace("ns")
	assert.ErrorIs(t, err, status.ErrReadOnly)
}

func TestLog_DetectsBitRot(t *testing.T) {
	dev := newDev(t, 4)
	l := openLog(t, dev, Options{})
	require.NoError(t, l.Write("ns", "k", []byte("payload")))

	// Unit 0 header, then the record header, then "ns", "k", payload.
	dev.Corrupt(unitHeaderSize+recordHeaderSize+3+2, []byte{'X'})

	_, err := l.Read("ns", "k", 7)
	assert.ErrorIs(t, err, status.ErrCorrupt)
	assert.True(t, status.IsUnrecoverable(err))
}

func TestLog_DeviceFaultKeepsPreviousValue(t *testing.T) {
	mem := newDev(t, 4)
	fd := blockdev.NewFaultDevice(mem)
	l := openLog(t, fd, Options{})
	require.NoError(t, l.Write("ns", "k", []byte("old")))

	fd.FailNextWrite(1)
	err := l.Write("ns", "k", []byte("new"))
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrIO)
	assert.True(t, status.IsRetryable(err))

	got, err := l.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	// The engine moved on to a fresh unit.
	require.NoError(t, l.Write("ns", "k", []byte("new")))
	got, err = l.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestLog_FailedRetireIsResolvedOnRecovery(t *testing.T) {
	mem := newDev(t, 4)
	fd := blockdev.NewFaultDevice(mem)
	l := openLog(t, fd, Options{})
	require.NoError(t, l.Write("ns", "k", []byte("old")))

	// program, commit, retire: the third write fails after the commit.
	fd.FailNextWrite(3)
	require.NoError(t, l.Write("ns", "k", []byte("new")))

	l = openLog(t, mem, Options{})
	got, err := l.Get("ns", "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
	assert.Equal(t, uint64(1), l.Info().Counters.Repairs)
	assert.Equal(t, 1, l.Info().Entries.Used)
}

func TestLog_TornUnitHeaderIsErased(t *testing.T) {
	dev := newDev(t, 4)
	dev.Corrupt(2*testUnit, []byte{0xFE, 0xFF, 0xFF, 0xFF, 0x07})

	l := openLog(t, dev, Options{})
	assert.Equal(t, 4, l.Info().Units.Empty)
	assert.Equal(t, uint64(1), dev.EraseCount(2))
}

func TestLog_ConcurrentReadersAndWriter(t *testing.T) {
	l := openLog(t, newDev(t, 8), Options{})
	for k := 0; k < 4; k++ {
		require.NoError(t, l.Write("ns", fmt.Sprintf("k%d", k), value(32, 0)))
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%4)
				got, err := l.Read("ns", key, 32)
				if !assert.NoError(t, err) {
					return
				}
				// Every value is a run that starts at its seed.
				for j := 1; j < len(got); j++ {
					if got[j] != got[0]+byte(j) {
						t.Errorf("torn read of %s: %v", key, got)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		require.NoError(t, l.Write("ns", fmt.Sprintf("k%d", i%4), value(32, byte(i))))
	}
	wg.Wait()
}

func TestOpen_RejectsBadRegion(t *testing.T) {
	dev := newDev(t, 4)

	_, err := Open(dev, Region{Name: "x", Offset: 1, Size: testUnit}, Options{})
	assert.ErrorIs(t, err, status.ErrOutOfRange)

	_, err = Open(dev, Region{Name: "x", Offset: 0, Size: 8 * testUnit}, Options{})
	assert.ErrorIs(t, err, status.ErrOutOfRange)

	_, err = Open(dev, Region{Name: "x", Offset: 0, Size: testUnit}, Options{})
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}
