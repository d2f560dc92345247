package offline

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadFailed 表示回源失败（网络错误、超时或非 2xx 状态）。
	ErrDownloadFailed = errors.New("download failed")
	// ErrIO 表示文件系统读写失败。
	ErrIO = errors.New("io error")
	// ErrCorruptManifest 表示 manifest 文件存在但无法解析，缓存不会自动重建。
	ErrCorruptManifest = errors.New("corrupt manifest")
	// ErrNotAvailable 表示没有记录，或记录存在但文件已丢失。
	ErrNotAvailable = errors.New("asset not available")
	// ErrInvalidKey 表示 key 为空或无法映射为合法文件名。
	ErrInvalidKey = errors.New("invalid asset key")
	// ErrInvalidSource 表示下载地址不是 http/https URL。
	ErrInvalidSource = errors.New("invalid source url")
)

// OpError 携带失败的操作、asset key、错误类别与底层原因。
// errors.Is 同时匹配 Kind 与 Err，调用方既可按类别分支也可检查 fs.ErrPermission 等细节。
type OpError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Key)
	}
	msg = fmt.Sprintf("%s: %v", msg, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newOpError(op, key string, kind, err error) error {
	return &OpError{Op: op, Key: key, Kind: kind, Err: err}
}

// Kind 返回 err 所属的错误类别，无法识别时返回 nil。
func Kind(err error) error {
	for _, kind := range []error{
		ErrDownloadFailed,
		ErrNotAvailable,
		ErrCorruptManifest,
		ErrInvalidKey,
		ErrInvalidSource,
		ErrIO,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
