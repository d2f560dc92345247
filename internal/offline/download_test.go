package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestDownloadExampleScenario(t *testing.T) {
	upstream := newAssetServer(t)
	payload := bytes.Repeat([]byte("v"), 1024)
	upstream.Set("/course/lesson1.mp4", payload)

	cache, dataDir := newTestCache(t, NewHTTPFetcher(upstream.Client()))
	ctx := context.Background()

	record, err := cache.Download(ctx, "course/lesson1.mp4", "course", upstream.URLFor("course/lesson1.mp4"))
	if err != nil {
		t.Fatalf("download error: %v", err)
	}
	wantPath := filepath.Join(dataDir, "offline_videos", "course_lesson1.mp4")
	if record.LocalPath != wantPath {
		t.Fatalf("local path mismatch: %s vs %s", record.LocalPath, wantPath)
	}
	if record.SizeBytes != 1024 {
		t.Fatalf("size mismatch: %d", record.SizeBytes)
	}
	if record.GroupLabel != "course" || record.Key != "course/lesson1.mp4" {
		t.Fatalf("unexpected record: %+v", record)
	}
	onDisk, err := os.ReadFile(wantPath)
	if err != nil || !bytes.Equal(onDisk, payload) {
		t.Fatalf("file content mismatch (err=%v)", err)
	}

	usage, err := cache.Usage()
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if usage.Count != 1 || usage.TotalBytes != 1024 {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	existed, err := cache.Delete(ctx, "course/lesson1.mp4")
	if err != nil || !existed {
		t.Fatalf("delete should report existing record, got %v %v", existed, err)
	}
	usage, err = cache.Usage()
	if err != nil {
		t.Fatalf("usage error: %v", err)
	}
	if usage.Count != 0 || usage.TotalBytes != 0 {
		t.Fatalf("expected empty usage after delete, got %+v", usage)
	}
}

func TestDownloadSameKeyTwiceReplacesRecord(t *testing.T) {
	upstream := newAssetServer(t)
	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))
	ctx := context.Background()

	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	upstream.Set("/c/v.mp4", []byte("short"))
	cache.now = func() time.Time { return first }
	if _, err := cache.Download(ctx, "c/v.mp4", "c", upstream.URLFor("c/v.mp4")); err != nil {
		t.Fatalf("first download error: %v", err)
	}

	upstream.Set("/c/v.mp4", []byte("a much longer payload"))
	cache.now = func() time.Time { return second }
	if _, err := cache.Download(ctx, "c/v.mp4", "c-renamed", upstream.URLFor("c/v.mp4")); err != nil {
		t.Fatalf("second download error: %v", err)
	}

	manifest, err := cache.manifest.Load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if manifest.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", manifest.Len())
	}
	record := manifest.Assets["c/v.mp4"]
	if record.SizeBytes != int64(len("a much longer payload")) {
		t.Fatalf("size should come from second download, got %d", record.SizeBytes)
	}
	if !record.DownloadedAt.Equal(second) {
		t.Fatalf("timestamp should come from second download, got %v", record.DownloadedAt)
	}
	if record.GroupLabel != "c-renamed" {
		t.Fatalf("record should be replaced, not merged: %+v", record)
	}
}

func TestDownloadFetchFailureHasNoSideEffects(t *testing.T) {
	upstream := newAssetServer(t)
	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))

	_, err := cache.Download(context.Background(), "missing/v.mp4", "g", upstream.URLFor("missing/v.mp4"))
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Key != "missing/v.mp4" {
		t.Fatalf("expected OpError carrying key, got %#v", err)
	}

	entries, _ := os.ReadDir(cache.AssetDir())
	if len(entries) != 0 {
		t.Fatalf("asset dir should stay empty, found %d entries", len(entries))
	}
	if _, statErr := os.Stat(cache.ManifestPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("manifest must not be written on fetch failure, stat err=%v", statErr)
	}
}

func TestDownloadInterruptedBodyKeepsPreviousFile(t *testing.T) {
	var mu sync.Mutex
	var next io.ReadCloser
	fetcher := FetcherFunc(func(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		return next, nil
	})
	cache, _ := newTestCache(t, fetcher)
	ctx := context.Background()

	mu.Lock()
	next = io.NopCloser(strings.NewReader("complete-v1"))
	mu.Unlock()
	original, err := cache.Download(ctx, "c/v.mp4", "c", "https://cdn.example/c/v.mp4")
	if err != nil {
		t.Fatalf("initial download error: %v", err)
	}

	mu.Lock()
	next = &flakyReader{payload: []byte("partial_data"), failAfter: 5}
	mu.Unlock()
	if _, err := cache.Download(ctx, "c/v.mp4", "c", "https://cdn.example/c/v.mp4"); !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed from interrupted body, got %v", err)
	}

	data, err := os.ReadFile(original.LocalPath)
	if err != nil || string(data) != "complete-v1" {
		t.Fatalf("previous file must stay intact, got %q (err=%v)", data, err)
	}
	matches, _ := filepath.Glob(filepath.Join(cache.AssetDir(), ".download-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
	manifest, _ := cache.manifest.Load()
	if manifest.Assets["c/v.mp4"].SizeBytes != int64(len("complete-v1")) {
		t.Fatalf("manifest record should be unchanged: %+v", manifest.Assets["c/v.mp4"])
	}
}

func TestDownloadWriteFailureIsIOError(t *testing.T) {
	cache, _ := newTestCache(t, staticFetcher([]byte("payload")))
	target, err := cache.LocalPathFor("c/v.mp4")
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	// 目标位置被目录占用，rename 必然失败。
	if err := os.MkdirAll(filepath.Join(target, "occupied"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}

	_, err = cache.Download(context.Background(), "c/v.mp4", "c", "https://cdn.example/c/v.mp4")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if ok, _ := cache.IsAvailable("c/v.mp4"); ok {
		t.Fatalf("failed write must not produce an available record")
	}
	matches, _ := filepath.Glob(filepath.Join(cache.AssetDir(), ".download-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", matches)
	}
}

func TestDownloadRejectsInvalidInput(t *testing.T) {
	cache, _ := newTestCache(t, staticFetcher([]byte("x")))
	ctx := context.Background()

	if _, err := cache.Download(ctx, "", "g", "https://cdn.example/a"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := cache.Download(ctx, "..", "g", "https://cdn.example/a"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for dot-dot, got %v", err)
	}
	if _, err := cache.Download(ctx, "a.mp4", "g", "ftp://cdn.example/a"); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestConcurrentDistinctDownloadsKeepAllRecords(t *testing.T) {
	upstream := newAssetServer(t)
	const n = 24
	for i := 0; i < n; i++ {
		upstream.Set(fmt.Sprintf("/course/lesson%d.mp4", i), bytes.Repeat([]byte{byte(i)}, 100+i))
	}
	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("course/lesson%d.mp4", i)
		g.Go(func() error {
			_, err := cache.Download(ctx, key, "course", upstream.URLFor(key))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent download error: %v", err)
	}

	available, err := cache.ListAvailable()
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(available) != n {
		t.Fatalf("expected %d records, got %d (lost update)", n, len(available))
	}
	for i, record := range available {
		if i > 0 && available[i-1].Key >= record.Key {
			t.Fatalf("list should be sorted by key")
		}
	}
}

func TestConcurrentSameKeyDownloadsShareFetch(t *testing.T) {
	upstream := newAssetServer(t)
	upstream.Set("/c/v.mp4", []byte("shared-payload"))
	release := upstream.Hold()
	defer release()

	observer := &recordingObserver{}
	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))
	cache.observer = observer

	type result struct {
		record AssetRecord
		err    error
	}
	results := make(chan result, 2)
	start := func() {
		go func() {
			record, err := cache.Download(context.Background(), "c/v.mp4", "c", upstream.URLFor("c/v.mp4"))
			results <- result{record, err}
		}()
	}

	start()
	waitFor(t, func() bool { return upstream.total.Load() == 1 })
	start()
	time.Sleep(100 * time.Millisecond)
	release()

	first, second := <-results, <-results
	if first.err != nil || second.err != nil {
		t.Fatalf("download errors: %v / %v", first.err, second.err)
	}
	if upstream.Hits("/c/v.mp4") != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", upstream.Hits("/c/v.mp4"))
	}
	if first.record != second.record {
		t.Fatalf("waiters should receive the in-flight result: %+v vs %+v", first.record, second.record)
	}
	if observer.shared() != 1 || observer.downloads() != 1 {
		t.Fatalf("observer mismatch: downloads=%d shared=%d", observer.downloads(), observer.shared())
	}
}

func TestCancelledLeaderDoesNotFailSharedDownload(t *testing.T) {
	upstream := newAssetServer(t)
	upstream.Set("/c/v.mp4", []byte("shared-payload"))
	release := upstream.Hold()
	defer release()

	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.Download(leaderCtx, "c/v.mp4", "c", upstream.URLFor("c/v.mp4"))
		leaderErr <- err
	}()
	waitFor(t, func() bool { return upstream.total.Load() == 1 })

	type result struct {
		record AssetRecord
		err    error
	}
	follower := make(chan result, 1)
	go func() {
		record, err := cache.Download(context.Background(), "c/v.mp4", "c", upstream.URLFor("c/v.mp4"))
		follower <- result{record, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, ErrDownloadFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should return early with its own error, got %v", err)
	}
	release()

	got := <-follower
	if got.err != nil {
		t.Fatalf("follower with a live context should succeed, got %v", got.err)
	}
	data, err := os.ReadFile(got.record.LocalPath)
	if err != nil || string(data) != "shared-payload" {
		t.Fatalf("unexpected file content %q (err=%v)", data, err)
	}
	if upstream.Hits("/c/v.mp4") != 1 {
		t.Fatalf("expected a single upstream fetch, got %d", upstream.Hits("/c/v.mp4"))
	}
}

func TestDownloadWithCancelledContextFailsFast(t *testing.T) {
	upstream := newAssetServer(t)
	upstream.Set("/c/v.mp4", []byte("payload"))
	cache, _ := newTestCache(t, NewHTTPFetcher(upstream.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cache.Download(ctx, "c/v.mp4", "c", upstream.URLFor("c/v.mp4"))
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	if upstream.total.Load() != 0 {
		t.Fatalf("cancelled call must not reach upstream")
	}
}

func TestKindClassifiesErrors(t *testing.T) {
	err := newOpError("download", "k", ErrDownloadFailed, errors.New("boom"))
	if Kind(err) != ErrDownloadFailed {
		t.Fatalf("unexpected kind: %v", Kind(err))
	}
	if Kind(errors.New("other")) != nil {
		t.Fatalf("unknown errors should have no kind")
	}
	wrapped := fmt.Errorf("outer: %w", newOpError("delete", "k", ErrIO, os.ErrPermission))
	if Kind(wrapped) != ErrIO || !errors.Is(wrapped, os.ErrPermission) {
		t.Fatalf("kind and cause should both be visible: %v", wrapped)
	}
	if !strings.Contains(err.Error(), `download "k": download failed: boom`) {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	downloadCnt int
	sharedCnt   int
	deleteCnt   int
	lastErr     error
}

func (o *recordingObserver) ObserveDownload(_ time.Duration, _ int64, err error) {
	o.mu.Lock()
	o.downloadCnt++
	o.lastErr = err
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveSharedDownload() {
	o.mu.Lock()
	o.sharedCnt++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveDelete(bool, error) {
	o.mu.Lock()
	o.deleteCnt++
	o.mu.Unlock()
}

func (o *recordingObserver) downloads() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.downloadCnt
}

func (o *recordingObserver) shared() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sharedCnt
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
