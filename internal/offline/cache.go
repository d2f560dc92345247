package offline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Options 汇总构造 Cache 所需的依赖。
type Options struct {
	// AssetDir 为资源文件所在目录，不存在时自动创建。
	AssetDir string
	// Manifest 为共享的 manifest 存储，整个进程只应有一个实例。
	Manifest *ManifestStore
	// Fetcher 为外部取数能力。
	Fetcher Fetcher
	Logger  *logrus.Logger
	// Observer 可选，默认不上报。
	Observer Observer
}

// Cache 组合下载协调与存储核算，是离线缓存对外的唯一入口。
type Cache struct {
	assetDir string
	manifest *ManifestStore
	fetcher  Fetcher
	logger   *logrus.Logger
	observer Observer
	inflight singleflight.Group
	now      func() time.Time
}

// New 校验依赖并创建资源目录。
func New(opts Options) (*Cache, error) {
	if opts.AssetDir == "" {
		return nil, errors.New("asset dir required")
	}
	if opts.Manifest == nil {
		return nil, errors.New("manifest store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}

	abs, err := filepath.Abs(opts.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("resolve asset dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Cache{
		assetDir: abs,
		manifest: opts.Manifest,
		fetcher:  opts.Fetcher,
		logger:   opts.Logger,
		observer: observer,
		now:      time.Now,
	}, nil
}

// AssetDir 返回资源目录的绝对路径。
func (c *Cache) AssetDir() string {
	return c.assetDir
}

// ManifestPath 返回 manifest 文件的绝对路径。
func (c *Cache) ManifestPath() string {
	return c.manifest.Path()
}

// LocalPathFor 返回 key 对应的落盘路径；同一 key 总是得到同一路径。
func (c *Cache) LocalPathFor(key string) (string, error) {
	name, err := fileNameFor(key)
	if err != nil {
		return "", newOpError("resolve local path", key, ErrInvalidKey, nil)
	}
	return filepath.Join(c.assetDir, name), nil
}
