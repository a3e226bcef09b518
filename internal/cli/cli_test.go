package cli

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GulDilin/image-deduplication-storage/internal/config"
	"github.com/GulDilin/image-deduplication-storage/internal/service"
	"github.com/GulDilin/image-deduplication-storage/internal/testutil"
)

func writeConfig(t *testing.T, dir, driver, backend string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "imagestore.db")
	if driver == "badger" {
		dbPath = filepath.Join(dir, "badger")
	}
	body := fmt.Sprintf(`log:
  level: error
database:
  driver: %s
  path: %s
storage:
  backend: %s
  dir: %s
reconcile:
  min_age: 1m
  workers: 2
`, driver, dbPath, backend, filepath.Join(dir, "images"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestMigrateCommand(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "sqlite", "disk")

	out := run(t, "migrate", "--config", cfgPath)
	assert.Contains(t, out, "applied 1 migration(s)")
	assert.Contains(t, out, "001_init.sql")

	out = run(t, "migrate", "--config", cfgPath)
	assert.Contains(t, out, "applied 0 migration(s)")

	out = run(t, "migrate", "--status", "--config", cfgPath, "--log-level", "debug")
	assert.NotContains(t, out, "pending")
	assert.NotContains(t, out, "migration(s)")
}

func TestMigrateCommand_Badger(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), "badger", "disk")

	out := run(t, "migrate", "--config", cfgPath)
	assert.Contains(t, out, "badger store schema is up to date")
}

func TestReconcileCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "sqlite", "disk")
	imagesDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))

	orphan := uuid.NewString() + ".png"
	orphanPath := filepath.Join(imagesDir, orphan)
	require.NoError(t, os.WriteFile(orphanPath, []byte("stray"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphanPath, old, old))

	out := run(t, "reconcile", "--dry-run", "--config", cfgPath)
	assert.Contains(t, out, "would remove orphan file "+orphan)
	assert.FileExists(t, orphanPath)

	out = run(t, "reconcile", "--config", cfgPath)
	assert.Contains(t, out, "removed orphan file "+orphan)
	assert.NoFileExists(t, orphanPath)
}

func TestMissingConfigFails(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, cmd.Execute())
}

func newTestApp(t *testing.T, driver, backend string) *app {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(writeConfig(t, dir, driver, backend))
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAppRoutes(t *testing.T) {
	for _, tc := range []struct{ driver, backend string }{
		{"sqlite", "disk"},
		{"sqlite", "sqlite"},
		{"badger", "disk"},
	} {
		t.Run(tc.driver+"/"+tc.backend, func(t *testing.T) {
			a := newTestApp(t, tc.driver, tc.backend)
			ctx := context.Background()

			res, err := a.registry.Ingest(ctx, service.IngestRequest{
				Filename: "cat.png",
				Data:     testutil.PNG(t, 16, 16, 1, png.DefaultCompression),
			})
			require.NoError(t, err)

			srv := httptest.NewServer(a.routes(ctx))
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			resp, err = http.Get(srv.URL + "/api/images/" + res.Image.ID + "/file?w=8")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			resp, err = http.Get(srv.URL + "/metrics")
			require.NoError(t, err)
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			require.NoError(t, err)
			assert.True(t, strings.Contains(string(body), "go_goroutines"))
			assert.True(t, strings.Contains(string(body), `imagestore_thumbnail_lookups_total{result="miss"} 1`))
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	a := newTestApp(t, "sqlite", "disk")
	a.cfg.HTTP.Addr = "127.0.0.1:0"
	a.cfg.Reconcile.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
