package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"strategylab/internal/domain"
	"strategylab/internal/rules"
)

type positionState int

const (
	stateFlat positionState = iota
	stateInPosition
)

// simulator walks one symbol's series bar by bar. It owns a fresh rule
// context and at most one open position.
type simulator struct {
	series *domain.Series
	eval   *rules.Context
	entry  []*rules.RuleSet
	exits  []*rules.RuleSet
	limits RiskLimits
	warmup int
	log    *slog.Logger

	state  positionState
	cash   float64
	pos    domain.Position
	trades []domain.Trade
	curve  []domain.EquityPoint
}

func newSimulator(series *domain.Series, program *program, cash float64, opts Options, log *slog.Logger) *simulator {
	var ctxOpts []rules.ContextOption
	if opts.RSISaturation != nil {
		ctxOpts = append(ctxOpts, rules.WithRSISaturation(*opts.RSISaturation))
	}
	return &simulator{
		series: series,
		eval:   rules.NewContext(series, ctxOpts...),
		entry:  []*rules.RuleSet{program.entry},
		exits:  program.exits,
		limits: opts.Risk,
		warmup: program.warmup,
		log:    log.With("symbol", series.Symbol()),
		cash:   cash,
	}
}

// run simulates every bar from the warm-up index onwards.
func (s *simulator) run(ctx context.Context) error {
	for i := s.warmup; i < s.series.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		bar, err := s.series.At(i)
		if err != nil {
			return err
		}

		switch s.state {
		case stateFlat:
			if sig := rules.EvaluateEntry(s.entry, s.eval, i); sig.Fired() {
				s.open(bar)
			}
		case stateInPosition:
			if reason, ok := s.exitReason(i, bar); ok {
				s.close(bar, reason)
			}
		}

		s.curve = append(s.curve, domain.EquityPoint{Timestamp: bar.Timestamp, Equity: s.equity(bar.Close)})
	}
	return nil
}

func (s *simulator) exitReason(i int, bar domain.Bar) (domain.ExitReason, bool) {
	if sig := rules.EvaluateExit(s.exits, s.eval, i); sig.Fired() {
		return domain.ExitSignal, true
	}
	return s.limits.ThresholdExit(s.pos.EntryPrice, bar.Close)
}

func (s *simulator) open(bar domain.Bar) {
	qty := s.limits.Size(s.cash, bar.Close)
	if qty <= 0 {
		return
	}
	s.cash -= qty * bar.Close
	s.pos = domain.Position{
		Symbol:     bar.Symbol,
		EntryPrice: bar.Close,
		Quantity:   qty,
		EntryTime:  bar.Timestamp,
	}
	if s.pos.Symbol == "" {
		s.pos.Symbol = s.series.Symbol()
	}
	s.state = stateInPosition
	s.log.Debug("position opened", "price", bar.Close, "quantity", qty, "time", bar.Timestamp)
}

func (s *simulator) close(bar domain.Bar, reason domain.ExitReason) {
	proceeds := s.pos.Quantity * bar.Close
	pnl := proceeds - s.pos.Quantity*s.pos.EntryPrice
	s.cash += proceeds
	s.trades = append(s.trades, domain.Trade{
		Symbol:     s.pos.Symbol,
		Side:       domain.SideLong,
		EntryPrice: s.pos.EntryPrice,
		ExitPrice:  bar.Close,
		EntryTime:  s.pos.EntryTime,
		ExitTime:   bar.Timestamp,
		Quantity:   s.pos.Quantity,
		PnL:        pnl,
		PnLPercent: (bar.Close - s.pos.EntryPrice) / s.pos.EntryPrice * 100,
		ExitReason: reason,
	})
	s.log.Debug("position closed", "price", bar.Close, "pnl", pnl, "reason", reason)
	s.pos = domain.Position{}
	s.state = stateFlat
}

func (s *simulator) equity(price float64) float64 {
	if s.state == stateInPosition {
		return s.cash + s.pos.Quantity*price
	}
	return s.cash
}

// settle marks any open position to market at the last close and credits
// it to cash without recording a trade. It returns the position that was
// open, if any.
func (s *simulator) settle() (domain.Position, bool, error) {
	if s.state != stateInPosition {
		return domain.Position{}, false, nil
	}
	last, ok := s.series.Last()
	if !ok {
		return domain.Position{}, false, fmt.Errorf("open position on empty series")
	}
	pos := s.pos
	s.cash += pos.Quantity * last.Close
	s.pos = domain.Position{}
	s.state = stateFlat
	s.log.Info("open position marked to market", "entry_price", pos.EntryPrice, "last_close", last.Close)
	return pos, true, nil
}
