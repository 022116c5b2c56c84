// Package downloader 下载历史K线, 用于导出数据和推荐网格价格区间。
package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"binance-grid-trader/internal/strategy"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const klineBatchLimit = 1000

// Downloader 封装币安行情接口
type Downloader struct {
	client *binance.Client
	logger *zap.Logger
}

// New 创建下载器, 行情接口无需有效的API密钥
func New(apiKey, secretKey string, useTestnet bool, logger *zap.Logger) *Downloader {
	binance.UseTestnet = useTestnet
	return &Downloader{
		client: binance.NewClient(apiKey, secretKey),
		logger: logger,
	}
}

// DownloadKlines 分批拉取最近 days 天的K线
func (d *Downloader) DownloadKlines(ctx context.Context, symbol, interval string, days int) ([]*binance.Kline, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	var all []*binance.Kline
	cursor := start.UnixMilli()
	for cursor < end.UnixMilli() {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(end.UnixMilli()).
			Limit(klineBatchLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("download klines for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}
		all = append(all, klines...)

		last := klines[len(klines)-1].CloseTime
		if last <= cursor {
			break
		}
		cursor = last + 1
		if len(klines) < klineBatchLimit {
			break
		}
	}

	d.logger.Info("klines downloaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(all)))
	return all, nil
}

// RangeSuggestion 是基于历史行情的网格参数建议
type RangeSuggestion struct {
	Symbol         string
	Days           int
	LowerPrice     decimal.Decimal
	UpperPrice     decimal.Decimal
	LastClose      decimal.Decimal
	SuggestedCount int
}

// SuggestRange 用最近 days 天K线的最低/最高价作为网格区间,
// 网格数取整使单格间距约为中间价的 0.5%
func (d *Downloader) SuggestRange(ctx context.Context, symbol string, days int) (*RangeSuggestion, error) {
	klines, err := d.DownloadKlines(ctx, symbol, "1h", days)
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("no kline data for %s", symbol)
	}

	lower, err := decimal.NewFromString(klines[0].Low)
	if err != nil {
		return nil, err
	}
	upper, err := decimal.NewFromString(klines[0].High)
	if err != nil {
		return nil, err
	}
	for _, k := range klines[1:] {
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			continue
		}
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			continue
		}
		if low.LessThan(lower) {
			lower = low
		}
		if high.GreaterThan(upper) {
			upper = high
		}
	}
	lastClose, err := decimal.NewFromString(klines[len(klines)-1].Close)
	if err != nil {
		return nil, err
	}

	count := suggestedGridCount(upper, lower)
	return &RangeSuggestion{
		Symbol:         symbol,
		Days:           days,
		LowerPrice:     lower,
		UpperPrice:     upper,
		LastClose:      lastClose,
		SuggestedCount: count,
	}, nil
}

// suggestedGridCount 目标单格间距为中间价的 0.5%, 并夹在策略允许的范围内
func suggestedGridCount(upper, lower decimal.Decimal) int {
	mid := upper.Add(lower).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return strategy.MinGridCount
	}
	targetSpacing := mid.Mul(decimal.NewFromFloat(0.005))
	if !targetSpacing.IsPositive() {
		return strategy.MinGridCount
	}
	count := int(upper.Sub(lower).Div(targetSpacing).IntPart())
	if count < strategy.MinGridCount {
		return strategy.MinGridCount
	}
	if count > strategy.MaxGridCount {
		return strategy.MaxGridCount
	}
	return count
}

// ExportCSV 把K线写入CSV文件
func (d *Downloader) ExportCSV(klines []*binance.Kline, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"open_time", "open", "high", "low", "close", "volume", "close_time"}); err != nil {
		return err
	}
	for _, k := range klines {
		record := []string{
			strconv.FormatInt(k.OpenTime, 10),
			k.Open,
			k.High,
			k.Low,
			k.Close,
			k.Volume,
			strconv.FormatInt(k.CloseTime, 10),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	d.logger.Info("klines exported", zap.String("path", path), zap.Int("count", len(klines)))
	return nil
}
