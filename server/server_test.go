package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashkit/utils"
)

const indexPage = "<!doctype html><title>Clan Dashboard</title>"

type openRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (o *openRecorder) open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return nil
}

func (o *openRecorder) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

func dashboardDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('hi')"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "components"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "components", "ClanTab.js"), []byte("export {}"), 0o644))
	return dir
}

func testConfig(dir string) *utils.Config {
	conf := &utils.Config{}
	conf.Dashboard.Host = "127.0.0.1"
	conf.Dashboard.Dir = dir
	conf.SetDefaults()
	// an ephemeral port keeps tests independent of the fixed default
	conf.Dashboard.Port = 0
	return conf
}

// startServer runs the server in the background and returns its base url and a stop function
// that waits for Run to return.
func startServer(t *testing.T, s *Server) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited before listening: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return "http://" + s.Addr().String(), stop
}

func TestServer_ServesIndexPage(t *testing.T) {
	rec := &openRecorder{}
	s, err := NewServer(testConfig(dashboardDir(t)), WithOpener(rec.open))
	require.NoError(t, err)

	base, stop := startServer(t, s)

	resp, err := http.Get(base + "/index.html")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, indexPage, string(body))
	assert.NotEmpty(t, resp.Header.Get(RequestIdHeader))

	port := s.Addr().(*net.TCPAddr).Port
	assert.Equal(t, []string{"http://localhost:" + strconv.Itoa(port) + "/index.html"}, rec.opened())

	require.NoError(t, stop())
}

func TestServer_ContentTypesAndIndexResolution(t *testing.T) {
	s, err := NewServer(testConfig(dashboardDir(t)), WithOpener(nil))
	require.NoError(t, err)
	base, stop := startServer(t, s)
	defer func() { require.NoError(t, stop()) }()

	for _, tc := range []struct {
		path        string
		status      int
		contentType string
		contains    string
	}{
		{path: "/", status: http.StatusOK, contentType: "text/html", contains: "Clan Dashboard"},
		{path: "/app.js", status: http.StatusOK, contentType: "javascript", contains: "console.log"},
		{path: "/components/", status: http.StatusOK, contentType: "text/html", contains: "ClanTab.js"},
		{path: "/missing.txt", status: http.StatusNotFound},
	} {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(base + tc.path)
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.contentType != "" {
				assert.Contains(t, resp.Header.Get("Content-Type"), tc.contentType)
			}
			if tc.contains != "" {
				assert.Contains(t, string(body), tc.contains)
			}
		})
	}
}

func TestServer_RejectsWrites(t *testing.T) {
	s, err := NewServer(testConfig(dashboardDir(t)), WithOpener(nil))
	require.NoError(t, err)
	base, stop := startServer(t, s)
	defer func() { require.NoError(t, stop()) }()

	resp, err := http.Post(base+"/index.html", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_CancelReleasesPort(t *testing.T) {
	s, err := NewServer(testConfig(dashboardDir(t)), WithOpener(nil))
	require.NoError(t, err)
	_, stop := startServer(t, s)
	addr := s.Addr().String()

	require.NoError(t, stop(), "an interrupt must not surface as an error")

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "port should be free after shutdown")
	_ = ln.Close()
}

func TestServer_BindFailureIsReturned(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	conf := testConfig(dashboardDir(t))
	conf.Dashboard.Port = busy.Addr().(*net.TCPAddr).Port

	rec := &openRecorder{}
	s, err := NewServer(conf, WithOpener(rec.open))
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.Error(t, err)
	assert.Empty(t, rec.opened(), "the browser must not open when the port cannot be bound")
}

func TestNewServer_InvalidDirectory(t *testing.T) {
	dir := dashboardDir(t)

	_, err := NewServer(testConfig(filepath.Join(dir, "nope")))
	assert.Error(t, err)

	_, err = NewServer(testConfig(filepath.Join(dir, "index.html")))
	assert.Error(t, err)
}

func TestServer_URLUsesConfiguredPage(t *testing.T) {
	conf := testConfig(dashboardDir(t))
	conf.Dashboard.Port = 8000
	conf.Dashboard.Page = "/overview.html"

	s, err := NewServer(conf, WithOpener(nil))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/overview.html", s.URL())
}
