package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-cache/internal/config"
	"github.com/any-hub/offline-cache/internal/logging"
	"github.com/any-hub/offline-cache/internal/metrics"
	"github.com/any-hub/offline-cache/internal/offline"
	"github.com/any-hub/offline-cache/internal/server"
	"github.com/any-hub/offline-cache/internal/server/routes"
	"github.com/any-hub/offline-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["data_dir"] = cfg.Global.DataDir
		fields["manifest"] = cfg.Global.ManifestPath()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 清单与资源目录 → 指标 → Fiber server”，
	// 所有请求共享同一个 Cache 实例，清单的并发写由其内部串行化。
	app, err := buildApp(cfg, logger, promclient.NewRegistry())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化离线缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["data_dir"] = cfg.Global.DataDir
	fields["metrics"] = cfg.Global.MetricsEnabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 组装缓存、指标与路由，返回可直接监听的 Fiber 应用。
func buildApp(cfg *config.Config, logger *logrus.Logger, reg *promclient.Registry) (*fiber.App, error) {
	store, err := offline.NewManifestStore(cfg.Global.ManifestPath())
	if err != nil {
		return nil, err
	}

	var (
		observer offline.Observer
		gatherer promclient.Gatherer
	)
	if cfg.Global.MetricsEnabled && reg != nil {
		obs, err := metrics.NewObserver("", reg)
		if err != nil {
			return nil, err
		}
		observer = obs
		gatherer = reg
	}

	cache, err := offline.New(offline.Options{
		AssetDir: cfg.Global.AssetDirPath(),
		Manifest: store,
		Fetcher:  offline.NewHTTPFetcher(server.NewFetchClient(cfg)),
		Logger:   logger,
		Observer: observer,
	})
	if err != nil {
		return nil, err
	}

	if gatherer != nil {
		if err := metrics.RegisterUsageGauges("", reg, cache.Usage); err != nil {
			return nil, err
		}
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	routes.RegisterAssetRoutes(app, cache, logger)
	routes.RegisterDiagnosticRoutes(app, routes.StatusInfo{
		DataDir:      cfg.Global.DataDir,
		AssetDir:     cache.AssetDir(),
		ManifestPath: cache.ManifestPath(),
	}, gatherer)
	return app, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf("127.0.0.1:%d", port))
}
