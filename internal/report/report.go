// Package report renders backtest runs and results for terminals.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"strategylab/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	gainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Underline(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1)

	statusStyles = map[domain.RunStatus]lipgloss.Style{
		domain.RunPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.RunRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		domain.RunCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		domain.RunFailed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
)

// signed picks the gain or loss style by sign.
func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	default:
		return valueStyle.Render(text)
	}
}

// Status renders a run status label.
func Status(s domain.RunStatus) string {
	st, ok := statusStyles[s]
	if !ok {
		st = valueStyle
	}
	return st.Render(string(s))
}

// Run renders a one-line run summary.
func Run(run domain.BacktestRun) string {
	line := fmt.Sprintf("%s  %s  %s  %s",
		symbolStyle.Render(run.ID),
		valueStyle.Render(run.StrategyID),
		Status(run.Status),
		labelStyle.Render(strings.Join(run.Symbols, ",")),
	)
	if run.Error != "" {
		line += "  " + lossStyle.Render(run.Error)
	}
	return line
}

// Summary renders the headline metrics of a result in a box.
func Summary(title string, res *domain.BacktestResult) string {
	m := res.Metrics
	rows := [][2]string{
		{"Initial capital", valueStyle.Render(FormatMoney(res.InitialCapital))},
		{"Final capital", signed(res.FinalCapital-res.InitialCapital, FormatMoney(res.FinalCapital))},
		{"Total return", signed(m.TotalReturn, FormatPct(m.TotalReturn))},
		{"Trades", valueStyle.Render(fmt.Sprintf("%s (%d won, %d lost)", FormatInt(m.TotalTrades), m.WinningTrades, m.LosingTrades))},
		{"Win rate", valueStyle.Render(fmt.Sprintf("%.1f%%", m.WinRate))},
		{"Max drawdown", lossStyle.Render(fmt.Sprintf("%.2f%%", m.MaxDrawdown))},
		{"Sharpe ratio", valueStyle.Render(FormatRatio(m.SharpeRatio))},
		{"Profit factor", valueStyle.Render(FormatRatio(m.ProfitFactor))},
		{"Average trade", signed(m.AverageTrade, FormatMoney(m.AverageTrade))},
	}
	if len(res.OpenPositions) > 0 {
		rows = append(rows, [2]string{"Open positions", valueStyle.Render(fmt.Sprintf("%d", len(res.OpenPositions)))})
	}
	if len(res.SkippedSymbols) > 0 {
		rows = append(rows, [2]string{"Skipped", lossStyle.Render(strings.Join(res.SkippedSymbols, ", "))})
	}

	var b strings.Builder
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", r[0])))
		b.WriteString(r[1])
	}
	return titleStyle.Render(" "+title+" ") + "\n" + boxStyle.Render(b.String())
}

// Trades renders up to limit trades as a table; limit <= 0 renders all.
func Trades(trades []domain.Trade, limit int) string {
	if len(trades) == 0 {
		return labelStyle.Render("no trades")
	}
	shown := trades
	if limit > 0 && len(shown) > limit {
		shown = shown[len(shown)-limit:]
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-10s %-10s %10s %10s %12s %8s  %s",
		"SYMBOL", "ENTRY", "EXIT", "IN", "OUT", "PNL", "PNL%", "REASON")))
	for _, t := range shown {
		b.WriteByte('\n')
		b.WriteString(symbolStyle.Render(fmt.Sprintf("%-8s", t.Symbol)))
		b.WriteString(" ")
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-10s %-10s %10s %10s",
			t.EntryTime.Format(time.DateOnly), t.ExitTime.Format(time.DateOnly),
			FormatPrice(t.EntryPrice), FormatPrice(t.ExitPrice))))
		b.WriteString(" ")
		b.WriteString(signed(t.PnL, fmt.Sprintf("%12s %8s", FormatMoney(t.PnL), FormatPct(t.PnLPercent))))
		b.WriteString("  ")
		b.WriteString(labelStyle.Render(string(t.ExitReason)))
	}
	if len(shown) < len(trades) {
		b.WriteByte('\n')
		b.WriteString(labelStyle.Render(fmt.Sprintf("... %d earlier trades not shown", len(trades)-len(shown))))
	}
	return b.String()
}

// Strategy renders a strategy definition's rules.
func Strategy(s domain.Strategy) string {
	var b strings.Builder
	b.WriteString(symbolStyle.Render(s.ID))
	if s.Name != "" && s.Name != s.ID {
		b.WriteString("  " + valueStyle.Render(s.Name))
	}
	if s.Description != "" {
		b.WriteString("\n  " + labelStyle.Render(s.Description))
	}
	b.WriteString("\n  " + labelStyle.Render("entry: ") + ruleSet(s.Entry))
	for _, x := range s.Exits {
		label := "exit: "
		if x.Name != "" {
			label = "exit " + x.Name + ": "
		}
		b.WriteString("\n  " + labelStyle.Render(label) + ruleSet(x))
	}
	return b.String()
}

func ruleSet(rs domain.RuleSet) string {
	logic := strings.ToUpper(rs.Logic)
	if logic == "" {
		logic = "AND"
	}
	parts := make([]string, len(rs.Conditions))
	for i, c := range rs.Conditions {
		parts[i] = fmt.Sprintf("%s %s %v", c.Indicator, c.Operator, c.Value)
	}
	return valueStyle.Render(strings.Join(parts, " "+logic+" "))
}
