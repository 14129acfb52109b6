package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/auth"
	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/ptable"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

const unit = 512

func newClient(t *testing.T) *Client {
	t.Helper()
	return newClientWith(t, api.Options{})
}

func newClientWith(t *testing.T, opts api.Options) *Client {
	t.Helper()
	ts := httptest.NewServer(newHandler(t, opts))
	t.Cleanup(ts.Close)
	return NewWithHTTPClient(ts.URL, ts.Client())
}

func newHandler(t *testing.T, opts api.Options) http.Handler {
	t.Helper()

	dev, err := blockdev.NewMemDevice(unit, 16*unit)
	require.NoError(t, err)
	parts := []ptable.Partition{
		{Name: "nvs", Type: ptable.TypeData, Subtype: ptable.SubtypeDataNVS, Offset: 1 * unit, Size: 6 * unit},
		{Name: "factory", Type: ptable.TypeData, Subtype: ptable.SubtypeDataNVS, Offset: 7 * unit, Size: 4 * unit},
		{Name: "storage", Type: ptable.TypeData, Subtype: ptable.SubtypeDataFAT, Offset: 11 * unit, Size: 4 * unit},
	}
	table, err := ptable.New(parts, blockdev.Geometry{UnitSize: unit, Size: dev.Size()}, 0)
	require.NoError(t, err)
	require.NoError(t, ptable.Write(dev, table))

	mgr, err := partition.Open(dev, partition.Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	opts.Logger = logging.NewNopLogger()
	return api.NewServer(mgr, opts).Handler()
}

func TestClient_FactoryScenario(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.InitPartition(ctx, "factory")
	require.NoError(t, err)

	size, found, err := c.KeyExists(ctx, "factory", "ns", "k1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, size)

	_, err = c.ReadBlob(ctx, "factory", "ns", "k1", 3)
	assert.ErrorIs(t, err, status.ErrKeyNotFound)
	assert.Equal(t, status.KeyNotFound, status.CodeOf(err))

	require.NoError(t, c.WriteBlob(ctx, "factory", "ns", "k1", []byte{1, 2, 3}))

	size, found, err = c.KeyExists(ctx, "factory", "ns", "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, size)

	got, err := c.ReadBlob(ctx, "factory", "ns", "k1", size)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, c.ErasePartition(ctx, "factory"))

	_, found, err = c.KeyExists(ctx, "factory", "ns", "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_ErrorsMapToSentinels(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	_, err := c.InitPartition(ctx, "nvs")
	require.NoError(t, err)
	require.NoError(t, c.WriteBlob(ctx, "nvs", "ns", "k", []byte("hello")))

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"partition not found", func() error { _, err := c.InitPartition(ctx, "missing"); return err }, status.ErrPartitionNotFound},
		{"not initialized", func() error { _, err := c.Get(ctx, "factory", "ns", "k"); return err }, status.ErrNotInitialized},
		{"unsupported", func() error { _, err := c.InitPartition(ctx, "storage"); return err }, status.ErrUnsupported},
		{"size mismatch", func() error { _, err := c.ReadBlob(ctx, "nvs", "ns", "k", 4); return err }, status.ErrSizeMismatch},
		{"invalid key", func() error { return c.WriteBlob(ctx, "nvs", "ns", "0123456789abcdef", []byte("x")) }, status.ErrInvalidArgument},
		{"delete missing", func() error { return c.DeleteKey(ctx, "nvs", "ns", "nope") }, status.ErrKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var opErr *status.OpError
			require.True(t, errors.As(err, &opErr))
			assert.Contains(t, opErr.Context, "remote:")
		})
	}
}

func TestClient_Listing(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	_, err := c.InitPartition(ctx, "nvs")
	require.NoError(t, err)

	require.NoError(t, c.WriteBlob(ctx, "nvs", "wifi", "ssid", []byte("home")))
	require.NoError(t, c.WriteBlob(ctx, "nvs", "wifi", "pass", []byte("secret")))
	require.NoError(t, c.WriteBlob(ctx, "nvs", "boot", "count", []byte{7}))

	list, err := c.Partitions(ctx)
	require.NoError(t, err)
	require.Len(t, list.Partitions, 3)
	assert.True(t, list.Partitions[0].Initialized)

	ns, err := c.Namespaces(ctx, "nvs")
	require.NoError(t, err)
	assert.Equal(t, []string{"boot", "wifi"}, ns)

	keys, err := c.Keys(ctx, "nvs", "wifi")
	require.NoError(t, err)
	assert.Equal(t, []string{"pass", "ssid"}, keys)

	got, err := c.Get(ctx, "nvs", "wifi", "pass")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))

	info, err := c.Info(ctx, "nvs")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Entries.Used)

	n, err := c.EraseNamespace(ctx, "nvs", "wifi")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, c.DeleteKey(ctx, "nvs", "boot", "count"))
	info, err = c.Compact(ctx, "nvs")
	require.NoError(t, err)
	assert.Zero(t, info.Entries.Used)
}

func TestClient_HeadErrorUsesStatusHeader(t *testing.T) {
	c := newClient(t)

	_, _, err := c.KeyExists(context.Background(), "factory", "ns", "k")
	assert.ErrorIs(t, err, status.ErrNotInitialized)
}

func TestClient_TransportFailureIsIO(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url)
	_, err := c.Partitions(context.Background())
	require.Error(t, err)
	assert.True(t, status.IsRetryable(err))
}

func TestClient_MissingStatusHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).Partitions(context.Background())
	require.Error(t, err)
	assert.Equal(t, status.Unknown, status.CodeOf(err))
}

func TestClient_BearerToken(t *testing.T) {
	tokens, err := auth.NewTokenManager("test-secret-key-must-be-at-least-32-characters-long", time.Hour)
	require.NoError(t, err)
	anonymous := newClientWith(t, api.Options{Tokens: tokens})
	ctx := context.Background()

	_, err = anonymous.Partitions(ctx)
	assert.ErrorIs(t, err, status.ErrUnauthorized)

	_, _, err = anonymous.KeyExists(ctx, "nvs", "ns", "k")
	assert.Equal(t, status.Unauthorized, status.CodeOf(err))

	reader, err := tokens.GenerateToken("dashboard", auth.RoleReader)
	require.NoError(t, err)
	_, err = anonymous.WithToken(reader).Partitions(ctx)
	require.NoError(t, err)

	_, err = anonymous.InitPartition(ctx, "nvs")
	assert.ErrorIs(t, err, status.ErrUnauthorized)

	writer, err := tokens.GenerateToken("provisioner", auth.RoleWriter)
	require.NoError(t, err)
	c := anonymous.WithToken(writer)
	_, err = c.InitPartition(ctx, "nvs")
	require.NoError(t, err)
	require.NoError(t, c.WriteBlob(ctx, "nvs", "ns", "k", []byte("v")))
}

func TestClient_TLS(t *testing.T) {
	ts := httptest.NewTLSServer(newHandler(t, api.Options{}))
	t.Cleanup(ts.Close)
	ctx := context.Background()

	_, err := New(ts.URL).Partitions(ctx)
	require.Error(t, err, "the test certificate is not trusted by default")

	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())
	c := New(ts.URL).WithTLSConfig(&tls.Config{RootCAs: roots})

	list, err := c.Partitions(ctx)
	require.NoError(t, err)
	assert.Len(t, list.Partitions, 3)
}
