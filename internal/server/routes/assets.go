package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-cache/internal/offline"
	"github.com/any-hub/offline-cache/internal/server"
)

// AssetService 是命令面依赖的缓存能力，*offline.Cache 满足该接口。
type AssetService interface {
	Download(ctx context.Context, key, groupLabel, sourceURL string) (offline.AssetRecord, error)
	IsAvailable(key string) (bool, error)
	ResolvePath(key string) (string, error)
	ListAvailable() ([]offline.AssetRecord, error)
	Delete(ctx context.Context, key string) (bool, error)
	Usage() (offline.UsageSummary, error)
	StaleRecords() ([]offline.AssetRecord, error)
	Orphans() ([]string, error)
}

type downloadRequest struct {
	Key        string `json:"key"`
	GroupLabel string `json:"group_label"`
	SourceURL  string `json:"source_url"`
}

// RegisterAssetRoutes 暴露 /api 下的离线缓存命令，供桌面端调用。
func RegisterAssetRoutes(app *fiber.App, svc AssetService, logger *logrus.Logger) {
	if app == nil || svc == nil || logger == nil {
		return
	}
	h := assetHandlers{svc: svc, logger: logger}

	api := app.Group("/api")
	api.Post("/assets", h.download)
	api.Get("/assets", h.list)
	api.Delete("/assets", h.delete)
	api.Get("/assets/available", h.available)
	api.Get("/assets/path", h.resolvePath)
	api.Get("/assets/stale", h.stale)
	api.Get("/assets/orphans", h.orphans)
	api.Get("/usage", h.usage)
}

type assetHandlers struct {
	svc    AssetService
	logger *logrus.Logger
}

func (h assetHandlers) download(c fiber.Ctx) error {
	var req downloadRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	req.Key = strings.TrimSpace(req.Key)
	req.SourceURL = strings.TrimSpace(req.SourceURL)

	record, err := h.svc.Download(requestContext(c), req.Key, req.GroupLabel, req.SourceURL)
	if err != nil {
		return h.writeError(c, "download", err)
	}
	return c.JSON(record)
}

func (h assetHandlers) list(c fiber.Ctx) error {
	records, err := h.svc.ListAvailable()
	if err != nil {
		return h.writeError(c, "list", err)
	}
	return c.JSON(fiber.Map{"assets": records})
}

func (h assetHandlers) available(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	available, err := h.svc.IsAvailable(key)
	if err != nil {
		return h.writeError(c, "available", err)
	}
	return c.JSON(fiber.Map{"key": key, "available": available})
}

func (h assetHandlers) resolvePath(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	path, err := h.svc.ResolvePath(key)
	if err != nil {
		return h.writeError(c, "resolve_path", err)
	}
	return c.JSON(fiber.Map{"key": key, "local_path": path})
}

func (h assetHandlers) delete(c fiber.Ctx) error {
	key, ok := requireKey(c)
	if !ok {
		return nil
	}
	existed, err := h.svc.Delete(requestContext(c), key)
	if err != nil {
		status, code := classify(err)
		h.logFailure(c, "delete", err)
		return c.Status(status).JSON(fiber.Map{
			"error":   code,
			"message": err.Error(),
			"key":     key,
			"existed": existed,
		})
	}
	return c.JSON(fiber.Map{"key": key, "existed": existed})
}

func (h assetHandlers) usage(c fiber.Ctx) error {
	summary, err := h.svc.Usage()
	if err != nil {
		return h.writeError(c, "usage", err)
	}
	return c.JSON(summary)
}

func (h assetHandlers) stale(c fiber.Ctx) error {
	records, err := h.svc.StaleRecords()
	if err != nil {
		return h.writeError(c, "stale", err)
	}
	return c.JSON(fiber.Map{"assets": records})
}

func (h assetHandlers) orphans(c fiber.Ctx) error {
	files, err := h.svc.Orphans()
	if err != nil {
		return h.writeError(c, "orphans", err)
	}
	if files == nil {
		files = []string{}
	}
	return c.JSON(fiber.Map{"files": files})
}

func (h assetHandlers) writeError(c fiber.Ctx, action string, err error) error {
	status, code := classify(err)
	h.logFailure(c, action, err)
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

func (h assetHandlers) logFailure(c fiber.Ctx, action string, err error) {
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	})
	// 未命中属于正常的否定结果，不按错误记录。
	if errors.Is(err, offline.ErrNotAvailable) {
		entry.Debug("asset_not_available")
		return
	}
	entry.Warn("command_failed")
}

// classify 将缓存错误类别映射为 HTTP 状态码与错误码。
func classify(err error) (int, string) {
	switch offline.Kind(err) {
	case offline.ErrNotAvailable:
		return fiber.StatusNotFound, "not_available"
	case offline.ErrDownloadFailed:
		return fiber.StatusBadGateway, "download_failed"
	case offline.ErrInvalidKey:
		return fiber.StatusBadRequest, "invalid_key"
	case offline.ErrInvalidSource:
		return fiber.StatusBadRequest, "invalid_source"
	case offline.ErrCorruptManifest:
		return fiber.StatusInternalServerError, "corrupt_manifest"
	case offline.ErrIO:
		return fiber.StatusInternalServerError, "io_error"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func requireKey(c fiber.Ctx) (string, bool) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "key_required"})
		return "", false
	}
	return key, true
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
