package offline

import "time"

// Observer 接收下载/删除结果，用于指标上报。实现必须可并发调用。
type Observer interface {
	ObserveDownload(elapsed time.Duration, sizeBytes int64, err error)
	ObserveSharedDownload()
	ObserveDelete(existed bool, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDownload(time.Duration, int64, error) {}
func (nopObserver) ObserveSharedDownload()                       {}
func (nopObserver) ObserveDelete(bool, error)                    {}
