package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/config"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/server"
)

// newImageConfig writes a config file and a freshly formatted image next to it.
func newImageConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Device.Path = filepath.Join(dir, "flash.img")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.LogLevel = "error"

	dev, _, err := cfg.MakeImage()
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	data, err := cfg.Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, "flashkv.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return cfg, path
}

func TestBuild_ResolvesGraph(t *testing.T) {
	cfg, _ := newImageConfig(t)

	container, err := Build(cfg)
	require.NoError(t, err)

	err = container.Invoke(func(dev *blockdev.FileDevice, mgr *partition.Manager, s *api.Server) error {
		defer dev.Close()

		require.NoError(t, mgr.InitPartition("nvs"))
		require.NoError(t, mgr.WriteBlob("nvs", "ns", "k", []byte("v")))

		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/v1/partitions/nvs/namespaces/ns/keys/k")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		return nil
	})
	require.NoError(t, err)
}

func TestBuild_MissingImage(t *testing.T) {
	cfg := config.Default()
	cfg.Device.Path = filepath.Join(t.TempDir(), "absent.img")

	container, err := Build(cfg)
	require.NoError(t, err)

	err = container.Invoke(func(*partition.Manager) {})
	require.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, path := newImageConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, path) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: chatty\n"), 0644))

	err := Run(context.Background(), path)
	require.Error(t, err)
}

func TestBuild_EnablesBearerAuth(t *testing.T) {
	cfg, _ := newImageConfig(t)
	cfg.Server.JWTSecret = "a-signing-secret-of-at-least-32-bytes"

	container, err := Build(cfg)
	require.NoError(t, err)

	err = container.Invoke(func(dev *blockdev.FileDevice, s *api.Server) error {
		defer dev.Close()

		ts := httptest.NewServer(s.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/v1/partitions")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		return nil
	})
	require.NoError(t, err)
}

func TestBuild_TLS(t *testing.T) {
	cfg, _ := newImageConfig(t)
	cfg.Server.TLS.AutoGenerate = true

	container, err := Build(cfg)
	require.NoError(t, err)
	err = container.Invoke(func(dev *blockdev.FileDevice, gs *server.GracefulServer) error {
		return dev.Close()
	})
	require.NoError(t, err)

	cfg, _ = newImageConfig(t)
	cfg.Server.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.Server.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	container, err = Build(cfg)
	require.NoError(t, err)
	err = container.Invoke(func(gs *server.GracefulServer) {})
	require.Error(t, err)
}
