package offline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Fetcher 抽象“按 URL 取回字节”的外部能力。超时与 TLS 由实现方负责。
type Fetcher interface {
	// Fetch 返回响应正文；非 2xx、网络错误或超时都应返回 ErrDownloadFailed。
	Fetch(ctx context.Context, sourceURL string) (io.ReadCloser, error)
}

// FetcherFunc 将普通函数适配为 Fetcher，便于测试注入。
type FetcherFunc func(ctx context.Context, sourceURL string) (io.ReadCloser, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	return f(ctx, sourceURL)
}

// HTTPFetcher 通过共享的 http.Client 执行 GET。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 构造基于 client 的 Fetcher；client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, http.NoBody)
	if err != nil {
		return nil, newOpError("fetch", "", ErrDownloadFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newOpError("fetch", "", ErrDownloadFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, newOpError("fetch", "", ErrDownloadFailed, fmt.Errorf("upstream status %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func validateSource(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
