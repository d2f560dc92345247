package config

import (
	"errors"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if strings.TrimSpace(g.DataDir) == "" {
		return newFieldError(globalField("DataDir"), "不能为空")
	}
	if err := validatePathElement("AssetDir", g.AssetDir); err != nil {
		return err
	}
	if err := validatePathElement("ManifestFile", g.ManifestFile); err != nil {
		return err
	}
	if g.AssetDir == g.ManifestFile {
		return newFieldError(globalField("ManifestFile"), "不能与 AssetDir 同名")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("FetchTimeout"), "必须大于 0")
	}
	if g.LogMaxSize < 0 {
		return newFieldError(globalField("LogMaxSize"), "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError(globalField("LogMaxBackups"), "不能为负数")
	}
	return nil
}

// validatePathElement 要求值是 DataDir 下的单层名称。
func validatePathElement(field, value string) error {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return newFieldError(globalField(field), "不能为空")
	case trimmed == "." || trimmed == "..":
		return newFieldError(globalField(field), "不能指向当前或上级目录")
	case strings.ContainsAny(trimmed, `/\`):
		return newFieldError(globalField(field), "只能是单层名称，不允许包含路径分隔符")
	}
	return nil
}
