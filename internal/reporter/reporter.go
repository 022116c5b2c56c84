// Package reporter 以表格形式输出网格的运行状态和收益统计。
package reporter

import (
	"fmt"
	"os"
	"time"

	"binance-grid-trader/internal/grid"
	"binance-grid-trader/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"
)

// Reporter 从协调器读取状态快照并渲染
type Reporter struct {
	coordinator *grid.Coordinator
	logger      *zap.Logger
}

// New 创建报告器
func New(coordinator *grid.Coordinator, logger *zap.Logger) *Reporter {
	return &Reporter{coordinator: coordinator, logger: logger}
}

// PrintStatus 输出指定网格(为空时取活动网格)的状态报告
func (r *Reporter) PrintStatus(gridID string) error {
	st, err := r.coordinator.Status(gridID)
	if err != nil {
		return err
	}
	r.render(st)
	return nil
}

func (r *Reporter) render(st *grid.Status) {
	g := st.Grid
	stats := st.Statistics

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Grid %s", g.ID)
	summary.AppendRows([]table.Row{
		{"Pair", g.TradingPair},
		{"Status", string(g.Status)},
		{"Range", fmt.Sprintf("%s ~ %s", g.LowerPrice, g.UpperPrice)},
		{"Grid Count", g.GridCount},
		{"Spacing", g.GridSpacing.String()},
		{"Investment", g.TotalInvestment.String()},
		{"Per Level", g.InvestmentPerLevel.String()},
		{"Current Price", st.CurrentPrice.String()},
		{"Runtime", st.Runtime.Round(time.Second).String()},
	})
	summary.Render()

	profit := table.NewWriter()
	profit.SetOutputMirror(os.Stdout)
	profit.SetStyle(table.StyleLight)
	profit.SetTitle("Statistics")
	profit.AppendRows([]table.Row{
		{"Trades", stats.TotalTrades},
		{"Buy / Sell", fmt.Sprintf("%d / %d", stats.BuyTrades, stats.SellTrades)},
		{"Active Orders", stats.ActiveOrders},
		{"Buy Cost", stats.TotalBuyCost.String()},
		{"Sell Revenue", stats.TotalSellRevenue.String()},
		{"Fees", stats.TotalFees.String()},
		{"Profit", stats.Profit.String()},
		{"Profit %", stats.ProfitPercentage.String() + "%"},
	})
	profit.Render()

	r.renderOrders(st)
}

// renderOrders 按档位列出每个价格档及其挂单
func (r *Reporter) renderOrders(st *grid.Status) {
	// 档位 -> 挂单
	pending := make(map[int][]*models.Order)
	for _, order := range st.Orders {
		if order.IsPending() {
			pending[order.LevelIndex] = append(pending[order.LevelIndex], order)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Levels")
	t.AppendHeader(table.Row{"Level", "Price", "Open Orders"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Price", Align: text.AlignRight},
	})

	// 档位从高到低排列, 更贴近盘口的直觉
	for i := len(st.Levels) - 1; i >= 0; i-- {
		level := st.Levels[i]
		cell := "-"
		for _, order := range pending[level.LevelIndex] {
			line := fmt.Sprintf("%s %s @ %s", order.Side, order.Quantity, order.Price)
			if cell == "-" {
				cell = line
			} else {
				cell += "\n" + line
			}
		}
		t.AppendRow(table.Row{level.LevelIndex, level.Price.String(), cell})
	}
	t.Render()
}
