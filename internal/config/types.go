package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 兼容纯秒整数与 Go Duration 字符串两种写法。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别 "30s"、"5m" 或纯数字秒值。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述离线缓存服务的全部运行参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	// DataDir 是应用私有数据目录，manifest 与资源目录都位于其下。
	DataDir string `mapstructure:"DataDir"`
	// AssetDir 为 DataDir 下存放资源文件的子目录名。
	AssetDir string `mapstructure:"AssetDir"`
	// ManifestFile 为 DataDir 下 manifest 的文件名。
	ManifestFile string `mapstructure:"ManifestFile"`
	// FetchTimeout 约束单次回源请求的总时长，由 http.Client 执行。
	FetchTimeout   Duration `mapstructure:"FetchTimeout"`
	MetricsEnabled bool     `mapstructure:"MetricsEnabled"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// AssetDirPath 返回资源目录的绝对路径。
func (g GlobalConfig) AssetDirPath() string {
	return filepath.Join(g.DataDir, g.AssetDir)
}

// ManifestPath 返回 manifest 文件的绝对路径。
func (g GlobalConfig) ManifestPath() string {
	return filepath.Join(g.DataDir, g.ManifestFile)
}
