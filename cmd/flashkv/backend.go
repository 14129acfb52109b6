package main

import (
	"context"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/client"
	"github.com/dd0wney/cluso-flashkv/pkg/config"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
)

// backend is the set of operations every blob command needs. A remote
// backend forwards them to a server; a local one runs them on the image.
type backend interface {
	Partitions(ctx context.Context) (api.PartitionList, error)
	Info(ctx context.Context, part string) (recordlog.Info, error)
	InitPartition(ctx context.Context, part string) (recordlog.Info, error)
	ErasePartition(ctx context.Context, part string) error
	Compact(ctx context.Context, part string) (recordlog.Info, error)
	Namespaces(ctx context.Context, part string) ([]string, error)
	Keys(ctx context.Context, part, ns string) ([]string, error)
	EraseNamespace(ctx context.Context, part, ns string) (int, error)
	KeyExists(ctx context.Context, part, ns, key string) (int, bool, error)
	WriteBlob(ctx context.Context, part, ns, key string, data []byte) error
	ReadBlob(ctx context.Context, part, ns, key string, size int) ([]byte, error)
	Get(ctx context.Context, part, ns, key string) ([]byte, error)
	DeleteKey(ctx context.Context, part, ns, key string) error
	Close() error
}

type remoteBackend struct {
	*client.Client
}

func (remoteBackend) Close() error { return nil }

// localBackend drives a partition manager over the image file. Each process
// starts with nothing mounted, so operations mount their partition first.
type localBackend struct {
	dev *blockdev.FileDevice
	mgr *partition.Manager
}

func openLocal(cfg *config.Config, logger logging.Logger) (*localBackend, error) {
	dev, err := cfg.OpenDevice()
	if err != nil {
		return nil, err
	}
	mgr, err := partition.Open(dev, cfg.ManagerOptions(logger, nil))
	if err != nil {
		dev.Close()
		return nil, err
	}
	return &localBackend{dev: dev, mgr: mgr}, nil
}

func (b *localBackend) Close() error { return b.dev.Close() }

func (b *localBackend) mount(part string) error {
	if b.mgr.Initialized(part) {
		return nil
	}
	return b.mgr.InitPartition(part)
}

func (b *localBackend) Partitions(context.Context) (api.PartitionList, error) {
	return api.ListPartitions(b.mgr), nil
}

func (b *localBackend) Info(_ context.Context, part string) (recordlog.Info, error) {
	if err := b.mount(part); err != nil {
		return recordlog.Info{}, err
	}
	return b.mgr.PartitionInfo(part)
}

func (b *localBackend) InitPartition(_ context.Context, part string) (recordlog.Info, error) {
	if err := b.mgr.InitPartition(part); err != nil {
		return recordlog.Info{}, err
	}
	return b.mgr.PartitionInfo(part)
}

func (b *localBackend) ErasePartition(_ context.Context, part string) error {
	return b.mgr.ErasePartition(part)
}

func (b *localBackend) Compact(_ context.Context, part string) (recordlog.Info, error) {
	if err := b.mount(part); err != nil {
		return recordlog.Info{}, err
	}
	if err := b.mgr.Compact(part); err != nil {
		return recordlog.Info{}, err
	}
	return b.mgr.PartitionInfo(part)
}

func (b *localBackend) Namespaces(_ context.Context, part string) ([]string, error) {
	if err := b.mount(part); err != nil {
		return nil, err
	}
	return b.mgr.Namespaces(part)
}

func (b *localBackend) Keys(_ context.Context, part, ns string) ([]string, error) {
	if err := b.mount(part); err != nil {
		return nil, err
	}
	return b.mgr.Keys(part, ns)
}

func (b *localBackend) EraseNamespace(_ context.Context, part, ns string) (int, error) {
	if err := b.mount(part); err != nil {
		return 0, err
	}
	return b.mgr.EraseNamespace(part, ns)
}

func (b *localBackend) KeyExists(_ context.Context, part, ns, key string) (int, bool, error) {
	if err := b.mount(part); err != nil {
		return 0, false, err
	}
	return b.mgr.KeyExists(part, ns, key)
}

func (b *localBackend) WriteBlob(_ context.Context, part, ns, key string, data []byte) error {
	if err := b.mount(part); err != nil {
		return err
	}
	return b.mgr.WriteBlob(part, ns, key, data)
}

func (b *localBackend) ReadBlob(_ context.Context, part, ns, key string, size int) ([]byte, error) {
	if err := b.mount(part); err != nil {
		return nil, err
	}
	return b.mgr.ReadBlob(part, ns, key, size)
}

func (b *localBackend) Get(_ context.Context, part, ns, key string) ([]byte, error) {
	if err := b.mount(part); err != nil {
		return nil, err
	}
	return b.mgr.Get(part, ns, key)
}

func (b *localBackend) DeleteKey(_ context.Context, part, ns, key string) error {
	if err := b.mount(part); err != nil {
		return err
	}
	return b.mgr.DeleteKey(part, ns, key)
}

