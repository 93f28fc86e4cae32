package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"letmego-core/internal/anchor"
	"letmego-core/internal/api"
	"letmego-core/internal/config/loader"
	"letmego-core/internal/config/schema"
	"letmego-core/internal/config/source"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/version"
)

func main() {
	// 1. 解析命令行参数
	var (
		configPath  = flag.String("config", "", "Path to configuration file (default: search anchor.yaml)")
		logLevel    = flag.String("log-level", "", "Override log level: debug/info/warn/error")
		printToken  = flag.Bool("print-token", false, "Print a management API token and exit")
		noDashboard = flag.Bool("no-dashboard", false, "Disable the terminal dashboard")
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *showHelp {
		fmt.Println("LetMeStay Anchor")
		fmt.Println("Usage: anchor [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  anchor                       # 使用默认配置，TCP 监听 51820")
		fmt.Println("  anchor -config ./anchor.yaml")
		fmt.Println("  anchor -print-token          # 输出管理 API 令牌")
		return
	}
	if *showVersion {
		fmt.Printf("anchor %s\n", version.Get())
		return
	}

	// 2. 加载配置
	flags := source.NewFuncSource("flags", source.PriorityFlags, func(cfg *schema.Root) error {
		if *logLevel != "" {
			cfg.Log.Level = *logLevel
		}
		return nil
	})
	root, err := loader.Load(*configPath, "anchor", flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printToken {
		auth := api.NewAuthenticator(api.ConfigFromSchema(root.Management).Auth)
		if !auth.Enabled() {
			fmt.Fprintln(os.Stderr, "Management API authentication is disabled (management.auth.secret is empty)")
			os.Exit(1)
		}
		token, expires, err := auth.IssueToken("anchor-cli")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format("2006-01-02 15:04:05"))
		return
	}

	// 看板占用终端时日志只写文件
	dashboard := !*noDashboard && isatty.IsTerminal(os.Stdout.Fd())
	if dashboard {
		root.Log.Console = false
	}
	logger, err := corelog.Configure(root.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. 创建并运行 Anchor
	app, err := anchor.New(ctx, root, corelog.Component("anchor"))
	if err != nil {
		corelog.Fatalf("Failed to create anchor: %v", err)
	}
	if err := app.Start(); err != nil {
		_ = app.Close()
		corelog.Fatalf("Failed to start anchor: %v", err)
	}
	if dashboard {
		if err := app.AttachDashboard(ctx, anchor.NewDashboard(os.Stdout)); err != nil {
			logger.Warnf("Anchor: dashboard unavailable: %v", err)
		}
	}

	if err := app.Run(ctx); err != nil {
		corelog.Errorf("Anchor: stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Infof("LetMeStay Anchor exited gracefully")
}
