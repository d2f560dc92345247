package offline

import "time"

// AssetRecord 描述一个已落盘的离线资源。
type AssetRecord struct {
	// Key 是远端逻辑路径，在 manifest 中唯一。
	Key string `json:"key"`
	// GroupLabel 仅用于展示分组（如课程名），不参与身份判定。
	GroupLabel string `json:"group_label"`
	// LocalPath 为落盘文件的绝对路径。
	LocalPath string `json:"local_path"`
	// DownloadedAt 记录下载完成（而非开始）的时间。
	DownloadedAt time.Time `json:"downloaded_at"`
	// SizeBytes 为写入完成时观测到的字节数。
	SizeBytes int64 `json:"size_bytes"`
}

// Manifest 是持久化的整份记录表，按 Key 索引。
type Manifest struct {
	Assets map[string]AssetRecord `json:"assets"`
}

// NewManifest 返回空 manifest。
func NewManifest() Manifest {
	return Manifest{Assets: make(map[string]AssetRecord)}
}

// Put 以 Key 为索引写入记录，已存在时整体替换。
func (m *Manifest) Put(record AssetRecord) {
	if m.Assets == nil {
		m.Assets = make(map[string]AssetRecord)
	}
	m.Assets[record.Key] = record
}

// Remove 删除 key 对应的记录，并返回被删除的记录。
func (m *Manifest) Remove(key string) (AssetRecord, bool) {
	record, ok := m.Assets[key]
	if ok {
		delete(m.Assets, key)
	}
	return record, ok
}

// Len 返回记录数。
func (m Manifest) Len() int {
	return len(m.Assets)
}

// UsageSummary 汇总仍存在于磁盘上的资源数量与体积。
type UsageSummary struct {
	Count      int     `json:"count"`
	TotalBytes int64   `json:"total_bytes"`
	TotalMB    float64 `json:"total_mb"`
	TotalGB    float64 `json:"total_gb"`
}

func newUsageSummary(count int, totalBytes int64) UsageSummary {
	return UsageSummary{
		Count:      count,
		TotalBytes: totalBytes,
		TotalMB:    float64(totalBytes) / (1024 * 1024),
		TotalGB:    float64(totalBytes) / (1024 * 1024 * 1024),
	}
}
