package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/timerzz/dman/dl"
	"github.com/timerzz/dman/pkg/workpool"
	"github.com/timerzz/dman/server"
)

func main() {
	var cfgPath string
	app := &cli.App{
		Name:  "dman-server",
		Usage: "多任务HTTP下载服务",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "YAML配置文件路径",
				Destination: &cfgPath,
			},
			&cli.IntFlag{
				Name:  "port",
				Value: server.DefaultPort,
				Usage: "监听端口",
			},
			&cli.IntFlag{
				Name:  "threads",
				Value: server.DefaultThreads,
				Usage: "线程池大小",
			},
			&cli.IntFlag{
				Name:    "t",
				Aliases: []string{"timeout"},
				Value:   30,
				Usage:   "设置超时时间（秒）",
			},
			&cli.IntFlag{
				Name:  "max-conns",
				Value: server.DefaultMaxConns,
				Usage: "最大并发连接数",
			},
			&cli.StringFlag{
				Name:  "proxy",
				Usage: "设置使用的代理，格式如：http://localhost:3000",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "日志级别",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := server.DefaultConfig()
			if cfgPath != "" {
				var err error
				if cfg, err = server.LoadConfig(cfgPath); err != nil {
					return err
				}
			}
			// 命令行显式给过的参数覆盖配置文件
			if ctx.IsSet("port") || cfgPath == "" {
				cfg.Port = ctx.Int("port")
			}
			if ctx.IsSet("threads") || cfgPath == "" {
				cfg.Threads = ctx.Int("threads")
			}
			if ctx.IsSet("t") {
				cfg.Timeout = ctx.Int("t")
			}
			if ctx.IsSet("max-conns") {
				cfg.MaxConns = ctx.Int("max-conns")
			}
			if ctx.IsSet("proxy") {
				cfg.Proxy = ctx.String("proxy")
			}
			if ctx.IsSet("log-level") {
				cfg.LogLevel = ctx.String("log-level")
			}

			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = logrus.InfoLevel
			}
			logrus.SetLevel(level)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			logger := logrus.WithField("app", "dman")

			pool := workpool.New(cfg.Threads, logger.WithField("component", "workpool"))
			defer pool.Stop()

			timeout := cfg.TimeoutDuration()
			downloader := dl.New(dl.Config{
				Proxy:   cfg.Proxy,
				Timeout: &timeout,
			}, pool, logger.WithField("component", "downloader"))

			srv := server.NewServer(cfg, downloader, pool, logger.WithField("component", "server"))
			if err := srv.Start(); err != nil {
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			srv.Stop()
			downloader.CancelAll()
			// 给进行中的任务一点时间感知取消
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
