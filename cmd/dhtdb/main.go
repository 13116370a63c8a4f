// Package main 提供 dhtdb 命令行入口
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-dhtdb"
	"github.com/dep2p/go-dhtdb/config"
	"github.com/dep2p/go-dhtdb/internal/util/logger"
)

var log = logger.Logger("cmd")

// 命令行参数只做运行时覆盖；持久配置写在 JSON 配置文件中
var (
	configFile  = flag.String("config", "", "配置文件路径")
	listenAddr  = flag.String("listen", "", "QUIC 监听地址（host:port）")
	publicAddr  = flag.String("public-addr", "", "对外公布的地址")
	dataDir     = flag.String("data-dir", "", "数据目录")
	inMemory    = flag.Bool("in-memory", false, "不使用持久化存储")
	metricsAddr = flag.String("metrics", "", "Prometheus 指标监听地址")
	bootstrap   = flag.String("bootstrap", "", "引导节点（逗号分隔）")
	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	flag.Parse()

	if *showVersion {
		fmt.Println(dhtdb.VersionInfo())
		return nil
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("📦 %s\n", dhtdb.VersionInfo())
	log.Info("启动 dhtdb 节点", "version", dhtdb.Version, "commit", dhtdb.GitCommit, "buildDate", dhtdb.BuildDate)

	node, err := dhtdb.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		err = multierr.Append(err, node.Stop(stopCtx))
	}()

	fmt.Printf("节点已启动: %s\n", node.Local().String())
	fmt.Println("按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	s := node.Stats()
	log.Info("退出时统计", "keys", s.Keys, "owned", s.OwnedValues, "blocks", s.Blocks)
	return nil
}

// buildOptions 构建节点选项
//
// 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
func buildOptions() ([]dhtdb.Option, error) {
	cfg := config.NewConfig()
	if *configFile != "" {
		c, err := config.LoadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = c
	}
	applyEnvOverrides(cfg)

	opts := []dhtdb.Option{dhtdb.WithConfig(cfg)}
	if isFlagSet("listen") {
		opts = append(opts, dhtdb.WithListenAddr(*listenAddr))
	}
	if isFlagSet("public-addr") {
		opts = append(opts, dhtdb.WithAdvertiseAddr(*publicAddr))
	}
	if isFlagSet("data-dir") {
		opts = append(opts, dhtdb.WithDataDir(*dataDir))
	}
	if *inMemory {
		opts = append(opts, dhtdb.WithInMemory())
	}
	if isFlagSet("metrics") {
		opts = append(opts, dhtdb.WithMetrics(*metricsAddr))
	}
	if isFlagSet("bootstrap") {
		opts = append(opts, dhtdb.WithBootstrap(splitAndTrim(*bootstrap, ",")...))
	}
	return opts, nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
