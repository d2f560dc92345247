package offline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// ManifestStore 负责 manifest 文档的整份读写。磁盘布局：
//
//	<DataDir>/<ManifestFile>    # JSON，{"assets": {key: AssetRecord}}
//
// 所有修改都是 load-mutate-save 整份替换，Update 持有进程级互斥锁保证串行。
type ManifestStore struct {
	path string
	mu   sync.Mutex
}

// NewManifestStore 以 manifest 文件的绝对路径构造存储。
func NewManifestStore(path string) (*ManifestStore, error) {
	if path == "" {
		return nil, errors.New("manifest path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	return &ManifestStore{path: abs}, nil
}

// Path 返回 manifest 文件的绝对路径。
func (s *ManifestStore) Path() string {
	return s.path
}

// Load 读取 manifest；文件不存在时返回空 manifest，无法解析时返回 ErrCorruptManifest。
func (s *ManifestStore) Load() (Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewManifest(), nil
		}
		return Manifest{}, newOpError("load manifest", "", ErrIO, err)
	}

	// 顶层 null 会被 json.Unmarshal 静默接受，这里按损坏处理。
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return Manifest{}, newOpError("load manifest", "", ErrCorruptManifest, errors.New("document is null"))
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, newOpError("load manifest", "", ErrCorruptManifest, err)
	}
	if manifest.Assets == nil {
		manifest.Assets = make(map[string]AssetRecord)
	}
	for key, record := range manifest.Assets {
		if record.Key != key {
			return Manifest{}, newOpError("load manifest", key, ErrCorruptManifest,
				fmt.Errorf("record key %q does not match entry", record.Key))
		}
	}
	return manifest, nil
}

// Save 序列化整份 manifest 并覆盖旧版本。写入走临时文件 + rename，
// 读者只会看到旧文档或新文档。失败不重试，直接返回 ErrIO。
func (s *ManifestStore) Save(manifest Manifest) error {
	if manifest.Assets == nil {
		manifest.Assets = make(map[string]AssetRecord)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return newOpError("save manifest", "", ErrIO, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newOpError("save manifest", "", ErrIO, err)
	}

	tempFile, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return newOpError("save manifest", "", ErrIO, err)
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return newOpError("save manifest", "", ErrIO, err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		os.Remove(tempName)
		return newOpError("save manifest", "", ErrIO, err)
	}
	return nil
}

// Update 在临界区内执行 load → fn → save。fn 返回错误时不保存。
func (s *ManifestStore) Update(fn func(*Manifest) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(&manifest); err != nil {
		return err
	}
	return s.Save(manifest)
}
