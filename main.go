package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/groupstore/internal/config"
	"github.com/any-hub/groupstore/internal/group"
	"github.com/any-hub/groupstore/internal/logging"
	"github.com/any-hub/groupstore/internal/notify"
	"github.com/any-hub/groupstore/internal/resource"
	"github.com/any-hub/groupstore/internal/server"
	"github.com/any-hub/groupstore/internal/server/routes"
	"github.com/any-hub/groupstore/internal/version"
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
		fields["backend"] = cfg.Global.Backend
		fields["workspace"] = cfg.Global.WorkspacePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 工作区后端 → 分组存储（预热）→ 通知 → Fiber server”顺序，
	// 所有请求共享同一个 Store 与位置缓存。
	workspace, store, err := openStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化分组存储失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := workspace.Close(); err != nil {
			logger.WithFields(logrus.Fields{"action": "shutdown", "backend": workspace.Backend}).Error(err.Error())
		}
	}()

	dispatcher := newNotifier(cfg, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["backend"] = workspace.Backend
	fields["instance_id"] = dispatcher.InstanceID()
	fields["stats"] = store.Stats()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, workspace, store, dispatcher, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("groupstore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 GROUPSTORE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		configPath:  config.ResolvePath(configFlag),
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// openStore 打开配置的后端并构建分组存储；WarmupOnStart 时预加载两棵树以填充位置缓存。
func openStore(cfg *config.Config, logger *logrus.Logger) (*resource.Workspace, *group.Store, error) {
	workspace, err := resource.Open(cfg.Global.Backend, resource.Options{
		Path:   cfg.Global.WorkspacePath,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := group.NewStore(workspace.Root, group.StoreOptions{
		Logger: logger,
		Layout: cfg.Global.Layout(),
	})
	if err != nil {
		_ = workspace.Close()
		return nil, nil, err
	}

	if cfg.Global.WarmupOnStart {
		if err := warmup(store, logger); err != nil {
			_ = workspace.Close()
			return nil, nil, err
		}
	}
	return workspace, store, nil
}

func warmup(store *group.Store, logger *logrus.Logger) error {
	for _, t := range []group.Type{group.TypeAPI, group.TypeFunction} {
		tree, err := store.GroupTree(t)
		if err != nil {
			return fmt.Errorf("预热 %s 分组失败: %w", t.Label(), err)
		}
		logger.WithFields(logrus.Fields{
			"action":   "warmup",
			"type":     t.Label(),
			"children": len(tree.Children),
		}).Debug("group tree warmed up")
	}
	return nil
}

// newNotifier 创建通知分发器并注册日志监听器，每条分组变更都会经注册表写入日志。
func newNotifier(cfg *config.Config, logger *logrus.Logger) *notify.Dispatcher {
	notify.RegisterLogListener(logger)
	return notify.NewDispatcher(cfg.Global.InstanceID, logger)
}

func startHTTPServer(cfg *config.Config, workspace *resource.Workspace, store *group.Store, notifier notify.Service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		ReadTimeout:  cfg.Global.ReadTimeout.DurationValue(),
		WriteTimeout: cfg.Global.WriteTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterGroupRoutes(app, routes.GroupOptions{
		Store:    store,
		Notifier: notifier,
		Logger:   logger,
	})
	routes.RegisterDiagnosticRoutes(app, workspace, store)

	// 收到退出信号后优雅关闭，保证 badger 等后端能够正常落盘
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		sig, ok := <-signals
		if !ok {
			return
		}
		logger.WithFields(logrus.Fields{"action": "shutdown", "signal": sig.String()}).Info("Fiber 服务关闭")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
