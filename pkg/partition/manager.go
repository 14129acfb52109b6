// Package partition is the entry point of the store. A Manager resolves
// partition names through the partition table, mounts the key-value log of
// each data/nvs partition and routes blob operations to it.
//
// Partitions are independent: each has its own lock, so operations on
// different partitions proceed concurrently.
package partition

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/metrics"
	"github.com/dd0wney/cluso-flashkv/pkg/ptable"
	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

// Options configure a Manager.
type Options struct {
	// TableOffset is where Open looks for the partition table.
	TableOffset int64
	// Compress enables snappy value compression on every mounted partition.
	Compress bool
	// ReservedUnits is passed to every record log; see recordlog.Options.
	ReservedUnits int
	Logger        logging.Logger
	// Metrics may be nil.
	Metrics *metrics.Registry
}

// Manager owns the mounted partitions of one device.
type Manager struct {
	dev     blockdev.Device
	table   *ptable.Table
	opts    Options
	logger  logging.Logger
	metrics *metrics.Registry

	mu   sync.RWMutex
	logs map[string]*recordlog.Log
	// mounts serializes init and erase per partition, so one partition is
	// never backed by two logs.
	mounts map[string]*sync.Mutex
}

// NewManager builds a manager over an already loaded table. No partition is
// mounted until InitPartition or InitAll.
func NewManager(dev blockdev.Device, table *ptable.Table, opts Options) *Manager {
	mounts := make(map[string]*sync.Mutex)
	for _, p := range table.Partitions() {
		mounts[p.Name] = &sync.Mutex{}
	}
	return &Manager{
		dev:     dev,
		table:   table,
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).With(logging.Component("partition")),
		metrics: opts.Metrics,
		logs:    make(map[string]*recordlog.Log),
		mounts:  mounts,
	}
}

// Open loads the partition table from the device and builds a manager.
func Open(dev blockdev.Device, opts Options) (*Manager, error) {
	table, err := ptable.Load(dev, opts.TableOffset)
	if err != nil {
		return nil, err
	}
	m := NewManager(dev, table, opts)
	m.logger.Info("partition table loaded",
		logging.String("table_id", table.ID().String()), logging.Count(len(table.Partitions())))
	return m, nil
}

// Table returns the partition table.
func (m *Manager) Table() *ptable.Table { return m.table }

// Verify re-reads the partition table from the device and checks that it is
// still the table this manager was opened with.
func (m *Manager) Verify() error {
	t, err := ptable.Load(m.dev, m.table.Offset())
	if err != nil {
		return err
	}
	if t.ID() != m.table.ID() {
		return status.NewError("verify").Context("table %s replaced by %s", m.table.ID(), t.ID()).Cause(status.ErrTableCorrupt).Err()
	}
	return nil
}

// Status describes one table entry and whether it is mounted.
type Status struct {
	ptable.Partition
	Initialized bool
}

// Partitions lists the table entries in table order.
func (m *Manager) Partitions() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parts := m.table.Partitions()
	out := make([]Status, len(parts))
	for i, p := range parts {
		_, ok := m.logs[p.Name]
		out[i] = Status{Partition: p, Initialized: ok}
	}
	return out
}

// Initialized reports whether a partition is mounted.
func (m *Manager) Initialized(name string) bool {
	_, ok := m.lookup(name)
	return ok
}

// observe logs and records the outcome of an operation.
func (m *Manager) observe(op, part string, start time.Time, err error) {
	elapsed := time.Since(start)
	code := status.CodeOf(err)
	if m.metrics != nil {
		m.metrics.RecordOperation(part, op, code.String(), elapsed)
	}
	fields := []logging.Field{logging.Operation(op), logging.Partition(part), logging.Latency(elapsed)}
	switch code {
	case status.OK, status.KeyNotFound:
		m.logger.Debug("operation complete", append(fields, logging.String("status", code.String()))...)
	case status.IoError, status.Corrupt, status.TableCorrupt:
		m.logger.Error("operation failed", append(fields, logging.Error(err))...)
	default:
		m.logger.Debug("operation rejected", append(fields, logging.Error(err))...)
	}
}

func (m *Manager) refresh(l *recordlog.Log) {
	if m.metrics != nil {
		m.metrics.UpdatePartition(l.Info())
	}
}

func (m *Manager) find(op, name string) (ptable.Partition, error) {
	p, ok := m.table.Find(name)
	if !ok {
		return p, status.NewError(op).Partition(name).Cause(status.ErrPartitionNotFound).Err()
	}
	return p, nil
}

func (m *Manager) lookup(name string) (*recordlog.Log, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[name]
	return l, ok
}

// mounted returns the log of an initialized partition.
func (m *Manager) mounted(op, name string) (*recordlog.Log, error) {
	p, err := m.find(op, name)
	if err != nil {
		return nil, err
	}
	if l, ok := m.lookup(name); ok {
		return l, nil
	}
	if !p.IsKV() {
		return nil, status.NewError(op).Partition(name).Context("%s", p).Cause(status.ErrUnsupported).Err()
	}
	return nil, status.NewError(op).Partition(name).Cause(status.ErrNotInitialized).Err()
}

// InitPartition mounts a partition, rebuilding its index from flash and
// rolling back whatever a power loss interrupted. Mounting an already
// mounted partition rescans its log in place; callers holding the log keep
// using it.
func (m *Manager) InitPartition(name string) (err error) {
	start := time.Now()
	defer func() { m.observe("init", name, start, err) }()

	p, err := m.find("init", name)
	if err != nil {
		return err
	}
	if !p.IsKV() {
		return status.NewError("init").Partition(name).Context("%s", p).Cause(status.ErrUnsupported).Err()
	}

	mu := m.mounts[name]
	mu.Lock()
	defer mu.Unlock()

	if l, ok := m.lookup(name); ok {
		if err := l.Rescan(); err != nil {
			return err
		}
		m.refresh(l)
		m.logger.Info("partition rescanned", logging.Partition(name), logging.Count(l.Info().Entries.Used))
		return nil
	}

	l, err := recordlog.Open(m.dev, recordlog.Region{Name: p.Name, Offset: p.Offset, Size: p.Size}, m.logOptions(p))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.logs[name] = l
	m.mu.Unlock()

	m.refresh(l)
	m.logger.Info("partition mounted", logging.Partition(name), logging.Count(l.Info().Entries.Used))
	return nil
}

func (m *Manager) logOptions(p ptable.Partition) recordlog.Options {
	opts := recordlog.Options{
		Compress:      m.opts.Compress,
		ReservedUnits: m.opts.ReservedUnits,
		ReadOnly:      p.ReadOnly(),
		Logger:        m.opts.Logger,
	}
	if m.metrics != nil {
		opts.Observer = m.metrics.Observer()
	}
	return opts
}

// InitAll mounts every key-value partition concurrently. It returns the
// first failure; partitions that mounted stay mounted.
func (m *Manager) InitAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range m.table.Partitions() {
		if !p.IsKV() {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return m.InitPartition(p.Name)
		})
	}
	return g.Wait()
}

// ErasePartition erases every unit of a partition. A mounted partition
// stays mounted and empty.
func (m *Manager) ErasePartition(name string) (err error) {
	start := time.Now()
	defer func() { m.observe("erase", name, start, err) }()

	p, err := m.find("erase", name)
	if err != nil {
		return err
	}
	if p.ReadOnly() {
		return status.NewError("erase").Partition(name).Cause(status.ErrReadOnly).Err()
	}

	mu := m.mounts[name]
	mu.Lock()
	defer mu.Unlock()

	if l, ok := m.lookup(name); ok {
		if err := l.Format(); err != nil {
			return err
		}
		m.refresh(l)
		return nil
	}

	first := int(p.Offset / int64(m.dev.UnitSize()))
	for u := 0; u < p.Units(m.dev.UnitSize()); u++ {
		if err := m.dev.Erase(first + u); err != nil {
			return status.NewError("erase").Partition(name).Context("unit %d", u).Cause(status.IOError("erase", err)).Err()
		}
	}
	return nil
}

// KeyExists reports whether a key is present and, if so, its value length.
// A zero-length value is present with size 0.
func (m *Manager) KeyExists(part, ns, key string) (size int, found bool, err error) {
	start := time.Now()
	defer func() { m.observe("exists", part, start, err) }()

	l, err := m.mounted("exists", part)
	if err != nil {
		return 0, false, err
	}
	return l.Stat(ns, key)
}

// WriteBlob stores data under (ns, key), replacing any previous value.
func (m *Manager) WriteBlob(part, ns, key string, data []byte) (err error) {
	start := time.Now()
	defer func() { m.observe("write", part, start, err) }()

	l, err := m.mounted("write", part)
	if err != nil {
		return err
	}
	if err := l.Write(ns, key, data); err != nil {
		return err
	}
	m.refresh(l)
	return nil
}

// ReadBlob returns the value of (ns, key). size must be the length reported
// by KeyExists.
func (m *Manager) ReadBlob(part, ns, key string, size int) (data []byte, err error) {
	start := time.Now()
	defer func() { m.observe("read", part, start, err) }()

	l, err := m.mounted("read", part)
	if err != nil {
		return nil, err
	}
	return l.Read(ns, key, size)
}

// Get returns the value of (ns, key) whatever its length.
func (m *Manager) Get(part, ns, key string) (data []byte, err error) {
	start := time.Now()
	defer func() { m.observe("get", part, start, err) }()

	l, err := m.mounted("get", part)
	if err != nil {
		return nil, err
	}
	return l.Get(ns, key)
}

// DeleteKey removes (ns, key).
func (m *Manager) DeleteKey(part, ns, key string) (err error) {
	start := time.Now()
	defer func() { m.observe("delete", part, start, err) }()

	l, err := m.mounted("delete", part)
	if err != nil {
		return err
	}
	if err := l.Delete(ns, key); err != nil {
		return err
	}
	m.refresh(l)
	return nil
}

// EraseNamespace removes every key of ns and returns how many were removed.
func (m *Manager) EraseNamespace(part, ns string) (n int, err error) {
	start := time.Now()
	defer func() { m.observe("erase_namespace", part, start, err) }()

	l, err := m.mounted("erase_namespace", part)
	if err != nil {
		return 0, err
	}
	n, err = l.DeleteNamespace(ns)
	m.refresh(l)
	return n, err
}

// Compact reclaims every unit of a partition that holds dead bytes.
func (m *Manager) Compact(part string) (err error) {
	start := time.Now()
	defer func() { m.observe("compact", part, start, err) }()

	l, err := m.mounted("compact", part)
	if err != nil {
		return err
	}
	if err := l.Compact(); err != nil {
		return err
	}
	m.refresh(l)
	return nil
}

// PartitionInfo reports occupancy of a mounted partition.
func (m *Manager) PartitionInfo(part string) (recordlog.Info, error) {
	l, err := m.mounted("info", part)
	if err != nil {
		return recordlog.Info{}, err
	}
	return l.Info(), nil
}

// Namespaces lists the namespaces of a mounted partition.
func (m *Manager) Namespaces(part string) ([]string, error) {
	l, err := m.mounted("namespaces", part)
	if err != nil {
		return nil, err
	}
	return l.Namespaces(), nil
}

// Keys lists the keys of one namespace.
func (m *Manager) Keys(part, ns string) ([]string, error) {
	l, err := m.mounted("keys", part)
	if err != nil {
		return nil, err
	}
	return l.Keys(ns), nil
}
