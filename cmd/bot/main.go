package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-grid-trader/internal/config"
	"binance-grid-trader/internal/downloader"
	"binance-grid-trader/internal/exchange"
	"binance-grid-trader/internal/grid"
	"binance-grid-trader/internal/logger"
	"binance-grid-trader/internal/models"
	"binance-grid-trader/internal/monitor"
	"binance-grid-trader/internal/pairing"
	"binance-grid-trader/internal/persistence"
	"binance-grid-trader/internal/reporter"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "配置文件路径")
	suggest := flag.Bool("suggest", false, "根据历史行情推荐网格区间后退出")
	days := flag.Int("days", 30, "suggest/download 模式使用的历史天数")
	download := flag.String("download", "", "下载K线到指定CSV文件后退出")
	interval := flag.String("interval", "1h", "download 模式的K线周期")
	stopGrid := flag.Bool("stop-grid", false, "停止当前活动网格并撤销挂单后退出")
	flag.Parse()

	// .env 不存在时静默忽略
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogConfig)
	log := logger.L()
	defer log.Sync()

	// 根据网络选择接口地址
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		log.Warn("运行在币安测试网")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")

	// suggest / download 模式只用公开行情接口, 不需要密钥
	if *suggest || *download != "" {
		dl := downloader.New(apiKey, secretKey, cfg.IsTestnet, log)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if *suggest {
			runSuggest(ctx, dl, cfg.Symbol, *days, log)
			return
		}
		runDownload(ctx, dl, cfg.Symbol, *interval, *days, *download, log)
		return
	}

	client, err := exchange.NewBinanceExchange(apiKey, secretKey, cfg.BaseURL, cfg.WSBaseURL, log)
	if err != nil {
		log.Fatal("初始化交易所客户端失败", zap.Error(err))
	}
	if err := client.TestConnection(); err != nil {
		log.Fatal("交易所连通性检查失败", zap.Error(err))
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "data"
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		log.Fatal("打开数据库失败", zap.Error(err))
	}
	defer store.Close()

	coordinator := grid.NewCoordinator(client, store, log)
	pairer := pairing.NewEngine(client, store.Levels, store.Orders, log)
	statusReporter := reporter.New(coordinator, log)

	if *stopGrid {
		runStopGrid(coordinator, store, log)
		return
	}

	g, err := resumeOrStart(coordinator, store, cfg, log)
	if err != nil {
		log.Fatal("启动网格失败", zap.Error(err))
	}

	mon := monitor.NewMonitor(client, store, pairer, log)
	if err := mon.Start(); err != nil {
		log.Fatal("启动用户数据流失败", zap.Error(err))
	}

	// 启动后先补一次配对, 覆盖停机期间错过的成交
	if _, err := pairer.Sweep(g.ID); err != nil {
		log.Error("初始配对扫描失败", zap.Error(err))
	}

	stopCh := make(chan struct{})
	go sweepLoop(pairer, g.ID, time.Duration(cfg.SweepIntervalSec)*time.Second, stopCh, log)
	go reportLoop(statusReporter, g.ID, time.Duration(cfg.ReportIntervalSec)*time.Second, stopCh, log)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("收到退出信号, 开始关闭", zap.String("signal", sig.String()))

	close(stopCh)
	mon.Stop()
	// 网格保持 RUNNING, 挂单留在交易所, 下次启动自动恢复
	log.Info("已退出, 网格挂单保留在交易所")
}

// resumeOrStart 恢复已有的活动网格, 没有则按配置启动新网格
func resumeOrStart(coordinator *grid.Coordinator, store *persistence.Store, cfg *models.Config, log *zap.Logger) (*models.Grid, error) {
	active, err := store.Grids.FindActive()
	if err != nil {
		return nil, err
	}
	if active != nil {
		log.Info("恢复运行中的网格",
			zap.String("grid_id", active.ID),
			zap.String("pair", active.TradingPair))
		return active, nil
	}

	return coordinator.Start(grid.Config{
		TradingPair:     cfg.Symbol,
		UpperPrice:      decimal.NewFromFloat(cfg.UpperPrice),
		LowerPrice:      decimal.NewFromFloat(cfg.LowerPrice),
		GridCount:       cfg.GridCount,
		TotalInvestment: decimal.NewFromFloat(cfg.TotalInvestment),
		QuoteAsset:      cfg.QuoteAsset,
	})
}

func runStopGrid(coordinator *grid.Coordinator, store *persistence.Store, log *zap.Logger) {
	active, err := store.Grids.FindActive()
	if err != nil {
		log.Fatal("查询活动网格失败", zap.Error(err))
	}
	if active == nil {
		log.Info("没有运行中的网格")
		return
	}
	g, cancelled, err := coordinator.Stop(active.ID, true)
	if err != nil {
		log.Fatal("停止网格失败", zap.Error(err))
	}
	log.Info("网格已停止",
		zap.String("grid_id", g.ID),
		zap.Int("cancelled_orders", cancelled))
}

func runSuggest(ctx context.Context, dl *downloader.Downloader, symbol string, days int, log *zap.Logger) {
	suggestion, err := dl.SuggestRange(ctx, symbol, days)
	if err != nil {
		log.Fatal("生成区间建议失败", zap.Error(err))
	}
	fmt.Printf("交易对:     %s\n", suggestion.Symbol)
	fmt.Printf("统计周期:   最近 %d 天\n", suggestion.Days)
	fmt.Printf("最新价:     %s\n", suggestion.LastClose)
	fmt.Printf("建议下限:   %s\n", suggestion.LowerPrice)
	fmt.Printf("建议上限:   %s\n", suggestion.UpperPrice)
	fmt.Printf("建议网格数: %d\n", suggestion.SuggestedCount)
}

func runDownload(ctx context.Context, dl *downloader.Downloader, symbol, interval string, days int, path string, log *zap.Logger) {
	klines, err := dl.DownloadKlines(ctx, symbol, interval, days)
	if err != nil {
		log.Fatal("下载K线失败", zap.Error(err))
	}
	if err := dl.ExportCSV(klines, path); err != nil {
		log.Fatal("导出CSV失败", zap.Error(err))
	}
}

func sweepLoop(pairer *pairing.Engine, gridID string, interval time.Duration, stopCh <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := pairer.Sweep(gridID); err != nil {
				log.Error("定时配对扫描失败", zap.Error(err))
			}
		}
	}
}

func reportLoop(r *reporter.Reporter, gridID string, interval time.Duration, stopCh <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.PrintStatus(gridID); err != nil {
				log.Error("输出状态报告失败", zap.Error(err))
			}
		}
	}
}
