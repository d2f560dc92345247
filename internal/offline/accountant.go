package offline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/any-hub/offline-cache/internal/logging"
)

// IsAvailable 仅当 manifest 有记录且文件仍存在时返回 true。
func (c *Cache) IsAvailable(key string) (bool, error) {
	manifest, err := c.manifest.Load()
	if err != nil {
		return false, err
	}
	record, ok := manifest.Assets[key]
	return ok && fileExists(record.LocalPath), nil
}

// ResolvePath 返回可用资源的本地路径；无记录或文件丢失时返回 ErrNotAvailable。
func (c *Cache) ResolvePath(key string) (string, error) {
	manifest, err := c.manifest.Load()
	if err != nil {
		return "", err
	}
	record, ok := manifest.Assets[key]
	if !ok {
		return "", newOpError("resolve path", key, ErrNotAvailable, nil)
	}
	if !fileExists(record.LocalPath) {
		return "", newOpError("resolve path", key, ErrNotAvailable, fs.ErrNotExist)
	}
	return record.LocalPath, nil
}

// ListAvailable 每次调用都重新读取 manifest 并过滤掉文件缺失的记录，按 Key 排序。
func (c *Cache) ListAvailable() ([]AssetRecord, error) {
	return c.filterRecords(true)
}

// StaleRecords 返回文件已被外部删除的记录，不修改 manifest。
func (c *Cache) StaleRecords() ([]AssetRecord, error) {
	return c.filterRecords(false)
}

// Usage 仅统计文件仍存在的记录；过期记录不计入。
func (c *Cache) Usage() (UsageSummary, error) {
	available, err := c.ListAvailable()
	if err != nil {
		return UsageSummary{}, err
	}
	var total int64
	for _, record := range available {
		total += record.SizeBytes
	}
	return newUsageSummary(len(available), total), nil
}

// Delete 先从 manifest 删除记录（以 manifest 为准），再尽力删除磁盘文件。
// 文件删除失败返回 ErrIO，但记录已删除。返回值表示记录是否存在。
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var (
		removed AssetRecord
		existed bool
	)
	err := c.manifest.Update(func(m *Manifest) error {
		removed, existed = m.Remove(key)
		return nil
	})
	if err != nil {
		c.observer.ObserveDelete(false, err)
		return false, err
	}

	fields := logging.AssetFields("delete", key, removed.GroupLabel)
	fields["existed"] = existed
	if !existed {
		c.observer.ObserveDelete(false, nil)
		c.logger.WithFields(fields).Info("delete_complete")
		return false, nil
	}

	fields["local_path"] = removed.LocalPath
	if err := os.Remove(removed.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		opErr := newOpError("delete", key, ErrIO, err)
		c.observer.ObserveDelete(true, opErr)
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Error("delete_file_failed")
		return true, opErr
	}

	c.observer.ObserveDelete(true, nil)
	c.logger.WithFields(fields).Info("delete_complete")
	return true, nil
}

// Orphans 列出资源目录中没有被任何记录引用的文件，包括中断下载遗留的临时文件。
// 只做检测，不删除。
func (c *Cache) Orphans() ([]string, error) {
	manifest, err := c.manifest.Load()
	if err != nil {
		return nil, err
	}
	referenced := make(map[string]struct{}, len(manifest.Assets))
	for _, record := range manifest.Assets {
		referenced[filepath.Clean(record.LocalPath)] = struct{}{}
	}

	entries, err := os.ReadDir(c.assetDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, newOpError("list orphans", "", ErrIO, err)
	}

	var orphans []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(c.assetDir, entry.Name())
		if _, ok := referenced[full]; !ok {
			orphans = append(orphans, full)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

func (c *Cache) filterRecords(wantExisting bool) ([]AssetRecord, error) {
	manifest, err := c.manifest.Load()
	if err != nil {
		return nil, err
	}
	result := make([]AssetRecord, 0, len(manifest.Assets))
	for _, record := range manifest.Assets {
		if fileExists(record.LocalPath) == wantExisting {
			result = append(result, record)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// fileExists 以文件系统为准判断记录是否可用，目录或任何 stat 错误都视为不存在。
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
