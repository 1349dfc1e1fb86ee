package app

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tradingEngine/internal/domain"
)

// WriteStartupSummary renders the engine configuration and risk limits as a table.
func WriteStartupSummary(w io.Writer, cfg EngineConfig, limits domain.RiskLimits, mode string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADING ENGINE")
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Symbols", strings.Join(cfg.Symbols, ", ")},
		{"Mode", mode},
		{"Initial Capital", fmt.Sprintf("%.2f", cfg.InitialCapital)},
		{"Position Size", pct(cfg.PositionSizeFraction)},
		{"Poll Interval", cfg.PollInterval.String()},
		{"Price Stream", fmt.Sprintf("%t", cfg.StreamPrices)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Max Position Size", pct(limits.MaxPositionSize)},
		{"Max Leverage", fmt.Sprintf("%.2fx", limits.MaxLeverage)},
		{"Max Drawdown", pct(limits.MaxDrawdown)},
		{"Daily Loss Limit", fmt.Sprintf("%.2f", limits.DailyLossLimit)},
		{"Concentration", pct(limits.PositionConcentration)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 60, Align: text.AlignLeft},
	})
	t.Render()
}

// WritePortfolioSummary renders positions and aggregates of s as a table.
func WritePortfolioSummary(w io.Writer, s domain.PortfolioSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PORTFOLIO")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Symbol", "Quantity", "Avg Price", "Price", "Market Value", "Unrealized", "Realized"})

	for _, p := range s.Positions {
		price, value, unrealized := "-", "-", "-"
		if p.Priced {
			price = fmt.Sprintf("%.4f", p.CurrentPrice)
			value = fmt.Sprintf("%.2f", p.MarketValue)
			unrealized = fmt.Sprintf("%.2f", p.UnrealizedPnL)
		}
		t.AppendRow(table.Row{
			p.Symbol,
			fmt.Sprintf("%.6f", p.Quantity),
			fmt.Sprintf("%.4f", p.AveragePrice),
			price,
			value,
			unrealized,
			fmt.Sprintf("%.2f", p.RealizedPnL),
		})
	}

	t.AppendFooter(table.Row{"Total", "", "", "", fmt.Sprintf("%.2f", s.TotalValue), "Cash", fmt.Sprintf("%.2f", s.Cash)})
	t.AppendFooter(table.Row{"Leverage", fmt.Sprintf("%.4f", s.Leverage), "Drawdown", pct(s.Drawdown), "Daily P&L", fmt.Sprintf("%.2f", s.DailyPnL), ""})
	t.Render()
}

func pct(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}
