// Package metrics exports offline cache activity to Prometheus. The observer
// implements offline.Observer so the cache core stays free of any metrics
// dependency, and usage gauges read through a provider function on scrape.
package metrics

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/any-hub/offline-cache/internal/offline"
)

const defaultNamespace = "offline_cache"

// Observer 上报下载/删除计数、下载字节数与耗时。
type Observer struct {
	downloads       *promclient.CounterVec
	downloadBytes   promclient.Counter
	downloadLatency promclient.Histogram
	sharedDownloads promclient.Counter
	deletes         *promclient.CounterVec
}

// NewObserver 在 reg 上注册全部指标；reg 为空时使用默认 Registerer。
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{
		downloads: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by result (ok, download_failed, io_error, corrupt_manifest, other).",
		}, []string{"result"}),
		downloadBytes: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written by successful downloads.",
		}),
		downloadLatency: promclient.NewHistogram(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Wall time of fetch, write and manifest commit.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		sharedDownloads: promclient.NewCounter(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "shared_downloads_total",
			Help:      "Download requests that joined an in-flight download of the same key.",
		}),
		deletes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Delete requests by result (removed, absent, io_error, other).",
		}, []string{"result"}),
	}

	for _, c := range []promclient.Collector{o.downloads, o.downloadBytes, o.downloadLatency, o.sharedDownloads, o.deletes} {
		if err := reg.Register(c); err != nil {
			var are promclient.AlreadyRegisteredError
			if errors.As(err, &are) {
				return nil, fmt.Errorf("metrics already registered in namespace %s: %w", namespace, err)
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return o, nil
}

func (o *Observer) ObserveDownload(elapsed time.Duration, sizeBytes int64, err error) {
	o.downloadLatency.Observe(elapsed.Seconds())
	o.downloads.WithLabelValues(resultLabel(err, "ok")).Inc()
	if err == nil && sizeBytes > 0 {
		o.downloadBytes.Add(float64(sizeBytes))
	}
}

func (o *Observer) ObserveSharedDownload() {
	o.sharedDownloads.Inc()
}

func (o *Observer) ObserveDelete(existed bool, err error) {
	success := "removed"
	if !existed {
		success = "absent"
	}
	o.deletes.WithLabelValues(resultLabel(err, success)).Inc()
}

// UsageFunc 返回当前磁盘占用，供 gauge 在抓取时调用。
type UsageFunc func() (offline.UsageSummary, error)

// RegisterUsageGauges 注册资源数量与字节数 gauge；抓取时若 usage 出错则上报 -1。
func RegisterUsageGauges(namespace string, reg promclient.Registerer, usage UsageFunc) error {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	count := promclient.NewGaugeFunc(promclient.GaugeOpts{
		Namespace: namespace,
		Name:      "assets",
		Help:      "Assets whose backing file currently exists.",
	}, func() float64 {
		summary, err := usage()
		if err != nil {
			return -1
		}
		return float64(summary.Count)
	})
	size := promclient.NewGaugeFunc(promclient.GaugeOpts{
		Namespace: namespace,
		Name:      "asset_bytes",
		Help:      "Total bytes of assets whose backing file currently exists.",
	}, func() float64 {
		summary, err := usage()
		if err != nil {
			return -1
		}
		return float64(summary.TotalBytes)
	})
	if err := reg.Register(count); err != nil {
		return fmt.Errorf("register asset gauge: %w", err)
	}
	if err := reg.Register(size); err != nil {
		return fmt.Errorf("register asset bytes gauge: %w", err)
	}
	return nil
}

func resultLabel(err error, success string) string {
	if err == nil {
		return success
	}
	switch offline.Kind(err) {
	case offline.ErrDownloadFailed:
		return "download_failed"
	case offline.ErrIO:
		return "io_error"
	case offline.ErrCorruptManifest:
		return "corrupt_manifest"
	default:
		return "other"
	}
}
