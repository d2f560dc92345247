package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AssetFields 提供 asset key/分组字段，供下载、删除日志复用。
func AssetFields(action, key, groupLabel string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"key":    key,
	}
	if groupLabel != "" {
		fields["group"] = groupLabel
	}
	return fields
}

// RequestFields 提供 HTTP 命令面的请求字段。
func RequestFields(method, path, requestID string, status int) logrus.Fields {
	return logrus.Fields{
		"action":     "request",
		"method":     method,
		"path":       path,
		"request_id": requestID,
		"status":     status,
	}
}
