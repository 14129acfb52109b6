package main

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/config"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeConfig stores the default layout with the image under a temp dir.
func writeConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Device.Path = filepath.Join(dir, "flash.img")

	data, err := cfg.Marshal()
	require.NoError(t, err)
	path := filepath.Join(dir, "flashkv.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, cfg
}

func TestRun_Usage(t *testing.T) {
	r := runCLI(t, "")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "Usage:")

	r = runCLI(t, "", "help")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "mkimage")

	r = runCLI(t, "", "version")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "flashkv v"+version)

	r = runCLI(t, "", "frobnicate")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "Unknown command: frobnicate")
}

func TestRun_ArgumentErrors(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	r := runCLI(t, "", "info", "-config", cfgPath)
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "wrong number of arguments")

	r = runCLI(t, "", "read", "-config", cfgPath, "nvs", "ns")
	assert.Equal(t, 2, r.code)

	r = runCLI(t, "", "write", "-bogus")
	assert.Equal(t, 2, r.code)

	r = runCLI(t, "", "keys", "-h")
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stderr, "Usage: flashkv keys")
}

func TestMkimage(t *testing.T) {
	cfgPath, cfg := writeConfig(t)

	r := runCLI(t, "", "mkimage", "-config", cfgPath)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "created "+cfg.Device.Path)
	assert.Contains(t, r.stdout, "with 3 partitions")

	r = runCLI(t, "", "mkimage", "-config", cfgPath)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "InvalidArgument")
	assert.Contains(t, r.stderr, "-force")

	r = runCLI(t, "", "mkimage", "-config", cfgPath, "-force")
	assert.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "", "mkimage", "-server", "http://127.0.0.1:1")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Unsupported")
}

func TestLocalBlobLifecycle(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	require.Equal(t, 0, runCLI(t, "", "mkimage", "-config", cfgPath).code)

	r := runCLI(t, "", "partitions", "-config", cfgPath)
	require.Equal(t, 0, r.code, r.stderr)
	for _, name := range []string{"nvs", "factory", "storage"} {
		assert.Contains(t, r.stdout, name)
	}

	r = runCLI(t, "", "write", "-config", cfgPath, "factory", "rustns", "serial", "SN-0042")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "wrote 7 bytes")

	// Every invocation remounts the image, so this exercises recovery.
	r = runCLI(t, "", "exists", "-config", cfgPath, "factory", "rustns", "serial")
	assert.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "found, 7 bytes")

	r = runCLI(t, "", "read", "-config", cfgPath, "factory", "rustns", "serial")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "SN-0042", r.stdout)

	r = runCLI(t, "", "read", "-config", cfgPath, "-size", "7", "factory", "rustns", "serial")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "SN-0042", r.stdout)

	r = runCLI(t, "", "read", "-config", cfgPath, "-size", "3", "factory", "rustns", "serial")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "SizeMismatch")

	r = runCLI(t, "calibration data", "write", "-config", cfgPath, "factory", "rustns", "cal")
	require.Equal(t, 0, r.code, r.stderr)

	blob := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(blob, []byte{0, 1, 2, 0xFF}, 0644))
	r = runCLI(t, "", "write", "-config", cfgPath, "-file", blob, "factory", "other", "raw")
	require.Equal(t, 0, r.code, r.stderr)

	out := filepath.Join(t.TempDir(), "out.bin")
	r = runCLI(t, "", "read", "-config", cfgPath, "-o", out, "factory", "other", "raw")
	require.Equal(t, 0, r.code, r.stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0xFF}, data)

	r = runCLI(t, "", "keys", "-config", cfgPath, "factory")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "rustns")
	assert.Contains(t, r.stdout, "other")

	r = runCLI(t, "", "keys", "-config", cfgPath, "factory", "rustns")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "serial")
	assert.Contains(t, r.stdout, "cal")

	r = runCLI(t, "", "info", "-config", cfgPath, "factory")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Partition factory")
	assert.Contains(t, r.stdout, "3 used")

	r = runCLI(t, "", "delete", "-config", cfgPath, "factory", "rustns", "serial")
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "", "exists", "-config", cfgPath, "factory", "rustns", "serial")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stdout, "not found")
	assert.Empty(t, r.stderr)

	r = runCLI(t, "", "read", "-config", cfgPath, "factory", "rustns", "serial")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "KeyNotFound")

	r = runCLI(t, "", "erase-ns", "-config", cfgPath, "factory", "rustns")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "removed 1 keys")

	r = runCLI(t, "", "compact", "-config", cfgPath, "factory")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "compacted factory")

	r = runCLI(t, "", "erase", "-config", cfgPath, "factory")
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "", "keys", "-config", cfgPath, "factory")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "(none)")
}

func TestLocalErrors(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	require.Equal(t, 0, runCLI(t, "", "mkimage", "-config", cfgPath).code)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing partition", []string{"write", "-config", cfgPath, "nope", "ns", "k", "v"}, "PartitionNotFound"},
		{"fat partition", []string{"init", "-config", cfgPath, "storage"}, "Unsupported"},
		{"long key", []string{"write", "-config", cfgPath, "nvs", "ns", "a-sixteen-byte-k", "v"}, "InvalidArgument"},
		{"value and file", []string{"write", "-config", cfgPath, "-file", "x", "nvs", "ns", "k", "v"}, "InvalidArgument"},
		{"missing image", []string{"partitions", "-config", filepath.Join(t.TempDir(), "absent.yaml")}, "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runCLI(t, "", tt.args...)
			assert.Equal(t, 1, r.code)
			assert.Contains(t, r.stderr, tt.want)
		})
	}
}

func TestRemoteBackend(t *testing.T) {
	_, cfg := writeConfig(t)
	dev, _, err := cfg.MakeImage()
	require.NoError(t, err)
	defer dev.Close()

	mgr, err := partition.Open(dev, cfg.ManagerOptions(logging.NewNopLogger(), nil))
	require.NoError(t, err)
	require.NoError(t, mgr.InitAll(context.Background()))

	ts := httptest.NewServer(api.NewServer(mgr, api.Options{Logger: logging.NewNopLogger()}).Handler())
	defer ts.Close()

	r := runCLI(t, "", "write", "-server", ts.URL, "nvs", "wifi", "ssid", "home")
	require.Equal(t, 0, r.code, r.stderr)

	got, err := mgr.Get("nvs", "wifi", "ssid")
	require.NoError(t, err)
	assert.Equal(t, "home", string(got))

	r = runCLI(t, "", "read", "-server", ts.URL, "nvs", "wifi", "ssid")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "home", r.stdout)

	r = runCLI(t, "", "partitions", "-server", ts.URL)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "mounted")

	r = runCLI(t, "", "read", "-server", ts.URL, "nvs", "wifi", "psk")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "KeyNotFound")

	r = runCLI(t, "", "erase", "-server", ts.URL, "missing")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "PartitionNotFound")
}

func TestRemoteBackendTLS(t *testing.T) {
	_, cfg := writeConfig(t)
	dev, _, err := cfg.MakeImage()
	require.NoError(t, err)
	defer dev.Close()

	mgr, err := partition.Open(dev, cfg.ManagerOptions(logging.NewNopLogger(), nil))
	require.NoError(t, err)

	ts := httptest.NewTLSServer(api.NewServer(mgr, api.Options{Logger: logging.NewNopLogger()}).Handler())
	defer ts.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, caPEM, 0644))

	r := runCLI(t, "", "partitions", "-server", ts.URL)
	assert.Equal(t, 1, r.code, "untrusted certificate")

	r = runCLI(t, "", "partitions", "-server", ts.URL, "-cacert", caFile)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "factory")

	r = runCLI(t, "", "partitions", "-server", ts.URL, "-cacert", filepath.Join(t.TempDir(), "absent.pem"))
	assert.Equal(t, 1, r.code)
}

func TestCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")

	r := runCLI(t, "", "cert", "-hosts", "127.0.0.1, flash.local", certFile, keyFile)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "wrote "+certFile)

	cfg := config.Default()
	cfg.Server.TLS.CertFile = certFile
	cfg.Server.TLS.KeyFile = keyFile
	tlsCfg, err := cfg.TLSConfig()
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)

	r = runCLI(t, "", "cert", certFile)
	assert.Equal(t, 2, r.code)

	cfgPath, _ := writeConfig(t)
	r = runCLI(t, "", "cert", "-config", cfgPath)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "server.tls")
}

func TestTokenAndAuthenticatedServer(t *testing.T) {
	cfgPath, cfg := writeConfig(t)

	r := runCLI(t, "", "token", "-config", cfgPath)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "jwt_secret")

	cfg.Server.JWTSecret = "a-signing-secret-of-at-least-32-bytes"
	data, err := cfg.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0644))

	r = runCLI(t, "", "token", "-config", cfgPath, "-role", "writer", "-subject", "provisioner")
	require.Equal(t, 0, r.code, r.stderr)
	writer := strings.TrimSpace(r.stdout)
	require.Equal(t, 2, strings.Count(writer, "."))

	r = runCLI(t, "", "token", "-config", cfgPath, "-role", "admin")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "InvalidArgument")

	dev, _, err := cfg.MakeImage()
	require.NoError(t, err)
	defer dev.Close()
	mgr, err := partition.Open(dev, cfg.ManagerOptions(logging.NewNopLogger(), nil))
	require.NoError(t, err)
	require.NoError(t, mgr.InitAll(context.Background()))
	tokens, err := cfg.TokenManager()
	require.NoError(t, err)

	ts := httptest.NewServer(api.NewServer(mgr, api.Options{Logger: logging.NewNopLogger(), Tokens: tokens}).Handler())
	defer ts.Close()

	r = runCLI(t, "", "write", "-server", ts.URL, "nvs", "ns", "k", "v")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "Unauthorized")

	r = runCLI(t, "", "write", "-server", ts.URL, "-token", writer, "nvs", "ns", "k", "v")
	require.Equal(t, 0, r.code, r.stderr)
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{4096, "4KiB"},
		{1536, "1.5KiB"},
		{1 << 20, "1MiB"},
		{3 << 30, "3GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, humanBytes(tt.n))
	}
}
