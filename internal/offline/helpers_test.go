package offline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-cache/internal/logging"
)

// newTestCache 构建基于临时目录的 Cache，返回 cache 与数据目录。
func newTestCache(t *testing.T, fetcher Fetcher) (*Cache, string) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := NewManifestStore(filepath.Join(dataDir, "offline_videos.json"))
	if err != nil {
		t.Fatalf("manifest store error: %v", err)
	}
	cache, err := New(Options{
		AssetDir: filepath.Join(dataDir, "offline_videos"),
		Manifest: store,
		Fetcher:  fetcher,
		Logger:   logging.NewDiscardLogger(),
	})
	if err != nil {
		t.Fatalf("cache init error: %v", err)
	}
	return cache, dataDir
}

// assetServer 按路径返回固定字节，并统计每个路径的 GET 次数。
type assetServer struct {
	*httptest.Server

	mu      sync.Mutex
	bodies  map[string][]byte
	hits    map[string]int
	total   atomic.Int64
	release chan struct{}
}

func newAssetServer(t *testing.T) *assetServer {
	t.Helper()
	srv := &assetServer{
		bodies: make(map[string][]byte),
		hits:   make(map[string]int),
	}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.total.Add(1)
		srv.mu.Lock()
		srv.hits[r.URL.Path]++
		body, ok := srv.bodies[r.URL.Path]
		release := srv.release
		srv.mu.Unlock()

		if release != nil {
			<-release
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *assetServer) Set(path string, body []byte) {
	s.mu.Lock()
	s.bodies[path] = body
	s.mu.Unlock()
}

func (s *assetServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Hold 使后续请求阻塞，直到返回的函数被调用。
func (s *assetServer) Hold() func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.release = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (s *assetServer) URLFor(path string) string {
	return s.URL + "/" + strings.TrimPrefix(path, "/")
}

func staticFetcher(payload []byte) Fetcher {
	return FetcherFunc(func(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	})
}

// flakyReader 在读取 failAfter 字节后返回错误，模拟中途断开的响应。
type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := f.failAfter - f.readBytes
	if remaining > len(p) {
		remaining = len(p)
	}
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}

func (f *flakyReader) Close() error { return nil }
