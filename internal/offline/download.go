package offline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-cache/internal/logging"
)

const tempFilePattern = ".download-*"

// Download 依次执行 “回源 → 写临时文件 → 校验 manifest 并 rename → 提交记录”，并返回新记录。
// 回源失败不会产生任何文件或 manifest 变更；同一 key 的并发请求共享一次下载结果。
// 共享的下载不随任一调用方的 ctx 取消而中止，只受传输层超时约束；
// 调用方 ctx 结束时仅自身提前返回 ErrDownloadFailed。
func (c *Cache) Download(ctx context.Context, key, groupLabel, sourceURL string) (AssetRecord, error) {
	target, err := c.LocalPathFor(key)
	if err != nil {
		return AssetRecord{}, err
	}
	if err := validateSource(sourceURL); err != nil {
		return AssetRecord{}, newOpError("download", key, ErrInvalidSource, err)
	}
	if err := ctx.Err(); err != nil {
		return AssetRecord{}, newOpError("download", key, ErrDownloadFailed, err)
	}

	var leader atomic.Bool
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		leader.Store(true)
		return c.download(detached, key, groupLabel, sourceURL, target)
	})

	select {
	case <-ctx.Done():
		c.logger.WithFields(logging.AssetFields("download", key, groupLabel)).
			Debug("download_caller_gone")
		return AssetRecord{}, newOpError("download", key, ErrDownloadFailed, ctx.Err())
	case res := <-ch:
		if res.Shared && !leader.Load() {
			c.observer.ObserveSharedDownload()
			c.logger.WithFields(logging.AssetFields("download", key, groupLabel)).
				Debug("download_shared")
		}
		if res.Err != nil {
			return AssetRecord{}, res.Err
		}
		return res.Val.(AssetRecord), nil
	}
}

func (c *Cache) download(ctx context.Context, key, groupLabel, sourceURL, target string) (AssetRecord, error) {
	started := time.Now()
	fields := logging.AssetFields("download", key, groupLabel)
	fields["download_id"] = uuid.NewString()
	fields["source"] = sourceURL

	record, err := c.fetchAndCommit(ctx, key, groupLabel, sourceURL, target)
	elapsed := time.Since(started)
	c.observer.ObserveDownload(elapsed, record.SizeBytes, err)

	fields["elapsed_ms"] = elapsed.Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("download_failed")
		return AssetRecord{}, err
	}
	fields["size_bytes"] = record.SizeBytes
	fields["local_path"] = record.LocalPath
	c.logger.WithFields(fields).Info("download_complete")
	return record, nil
}

func (c *Cache) fetchAndCommit(ctx context.Context, key, groupLabel, sourceURL, target string) (AssetRecord, error) {
	// manifest 不可读时直接失败，不回源也不触碰磁盘上的文件。
	if _, err := c.manifest.Load(); err != nil {
		return AssetRecord{}, asKind("download", key, ErrIO, err)
	}

	body, err := c.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return AssetRecord{}, asKind("download", key, ErrDownloadFailed, err)
	}
	defer body.Close()

	tempName, written, err := writeTemp(ctx, filepath.Dir(target), body)
	if err != nil {
		return AssetRecord{}, asKind("download", key, ErrIO, err)
	}

	record := AssetRecord{
		Key:          key,
		GroupLabel:   groupLabel,
		LocalPath:    target,
		DownloadedAt: c.now().UTC(),
		SizeBytes:    written,
	}

	// rename 与记录提交在同一临界区内完成：manifest 读取失败时旧文件保持不变。
	renamed := false
	err = c.manifest.Update(func(m *Manifest) error {
		if err := os.Rename(tempName, target); err != nil {
			return newOpError("write", "", ErrIO, err)
		}
		renamed = true
		m.Put(record)
		return nil
	})
	if err == nil {
		return record, nil
	}
	if !renamed {
		os.Remove(tempName)
		return AssetRecord{}, asKind("download", key, ErrIO, err)
	}
	c.logger.WithFields(logrus.Fields{
		"action":     "manifest_commit",
		"key":        key,
		"local_path": target,
	}).Warn("orphaned_file")
	return AssetRecord{}, asKind("download", key, ErrIO, err)
}

// writeTemp 将 body 完整写入 dir 下的临时文件并落盘，返回临时文件名。
// 任何失败都会清理临时文件。
func writeTemp(ctx context.Context, dir string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, newOpError("write", "", ErrIO, err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return "", 0, newOpError("write", "", ErrIO, err)
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	if err == nil {
		if syncErr := tempFile.Sync(); syncErr != nil {
			err = newOpError("write", "", ErrIO, syncErr)
		}
	}
	if closeErr := tempFile.Close(); err == nil && closeErr != nil {
		err = newOpError("write", "", ErrIO, closeErr)
	}
	if err != nil {
		os.Remove(tempName)
		return "", 0, err
	}
	return tempName, written, nil
}

// copyWithContext 分块复制并区分两类失败：读取正文出错归为 ErrDownloadFailed，
// 写盘出错归为 ErrIO。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, newOpError("fetch", "", ErrDownloadFailed, err)
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, newOpError("write", "", ErrIO, wErr)
			}
			if w < n {
				return copied, newOpError("write", "", ErrIO, io.ErrShortWrite)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, newOpError("fetch", "", ErrDownloadFailed, err)
		}
	}
}

// asKind 保留已分类的 OpError（补上 key），未分类的错误归入 fallback 类别。
func asKind(op, key string, fallback, err error) error {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return &OpError{Op: op, Key: key, Kind: opErr.Kind, Err: opErr.Err}
	}
	return newOpError(op, key, fallback, err)
}
