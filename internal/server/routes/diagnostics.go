package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/offline-cache/internal/version"
)

// StatusInfo 描述 /-/status 输出的存储位置。
type StatusInfo struct {
	DataDir      string `json:"data_dir"`
	AssetDir     string `json:"asset_dir"`
	ManifestPath string `json:"manifest_path"`
}

// RegisterDiagnosticRoutes 暴露 /-/status 与可选的 /-/metrics。gatherer 为空时不注册指标接口。
func RegisterDiagnosticRoutes(app *fiber.App, info StatusInfo, gatherer promclient.Gatherer) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Full(),
			"storage": info,
		})
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
