package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/grid"
	"github.com/alanyoungcy/qmtbot/internal/risk"
)

// evaluate runs the per-symbol pipeline in precedence order: hard stop,
// first take-profit, dynamic stop, grid, then the intraday sell rules. A
// risk action short-circuits everything after it. A sell-rule exit rides
// alongside the grid signals and outranks them at dispatch.
func (m *Monitor) evaluate(snap domain.PositionState, q domain.Quote) []domain.Signal {
	if snap.Quantity <= 0 {
		return nil
	}

	if action := risk.Decide(snap, m.risk); action != risk.ActionNone {
		m.rules.Observe(snap.Symbol, q)
		return m.riskSignal(snap, action)
	}

	var out []domain.Signal
	if m.grid != nil && m.grid.Enabled() {
		out = m.gridSignals(snap, q.LastPrice)
	}
	if sig, ok := m.rules.Evaluate(snap, q); ok {
		out = append(out, sig)
	}
	return out
}

func (m *Monitor) riskSignal(snap domain.PositionState, action risk.Action) []domain.Signal {
	var (
		qty      int64
		priority domain.SignalPriority
	)
	switch action {
	case risk.ActionFirstTakeProfit:
		qty = risk.FirstTakeProfitQuantity(snap, m.risk)
		priority = domain.PriorityHigh
	default:
		qty = domain.SellableQuantity(snap.AvailableQuantity, snap.AvailableQuantity)
		priority = domain.PriorityCritical
	}
	if qty <= 0 {
		m.logger.Info("monitor: risk action with nothing available to sell",
			slog.String("symbol", snap.Symbol),
			slog.String("action", action.String()),
			slog.Int64("quantity", snap.Quantity),
		)
		return nil
	}
	m.logger.Warn("monitor: risk action",
		slog.String("symbol", snap.Symbol),
		slog.String("action", action.String()),
		slog.Float64("price", snap.CurrentPrice),
		slog.Float64("profit_ratio", snap.ProfitRatio),
		slog.Float64("stop_loss_price", snap.StopLossPrice),
		slog.Int64("quantity", qty),
	)
	return []domain.Signal{{
		Symbol:    snap.Symbol,
		Direction: domain.DirectionSell,
		Quantity:  qty,
		Reason:    action.String(),
		Priority:  priority,
		Source:    "risk",
		FullExit:  action.Liquidates(),
	}}
}

// gridSignals plans a ladder when none is live and claims each matched
// level in the ledger. Only a successful PENDING → ACTIVE claim yields a
// signal.
func (m *Monitor) gridSignals(snap domain.PositionState, price float64) []domain.Signal {
	if grid.NeedsPlan(snap) {
		plan := m.grid.PlanLevels(snap)
		if len(plan) == 0 {
			return nil
		}
		if err := m.ledger.SetGridPlan(snap.Symbol, plan); err != nil {
			m.logger.Warn("monitor: set grid plan failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
			return nil
		}
		snap.GridTrades = plan
	}

	var out []domain.Signal
	for _, gs := range m.grid.MatchSignals(snap, price) {
		claimed, err := m.ledger.ActivateGridLevel(snap.Symbol, gs.Level)
		if err != nil || !claimed {
			continue
		}
		reason := domain.ReasonGridBuy
		if gs.Direction == domain.DirectionSell {
			reason = domain.ReasonGridSell
		}
		out = append(out, domain.Signal{
			Symbol:    gs.Symbol,
			Direction: gs.Direction,
			Quantity:  gs.Quantity,
			Price:     gs.Price,
			Reason:    reason,
			Priority:  domain.PriorityNormal,
			Source:    "grid",
			GridLevel: gs.Level,
		})
	}
	return out
}

// drainCommands turns queued operator commands into signals or state
// resets.
func (m *Monitor) drainCommands(ctx context.Context, quotes map[string]domain.Quote) []domain.Signal {
	var out []domain.Signal
	for {
		var cmd domain.Command
		select {
		case cmd = <-m.commands:
		default:
			return out
		}
		log := m.logger.With(slog.String("action", cmd.Action), slog.String("symbol", cmd.Symbol))

		switch cmd.Action {
		case "sell":
			snap, ok := m.ledger.Snapshot(cmd.Symbol)
			if !ok {
				log.WarnContext(ctx, "monitor: manual sell for unknown symbol")
				continue
			}
			q, ok := quotes[cmd.Symbol]
			if !ok {
				qctx, cancel := context.WithTimeout(ctx, m.cfg.SyncTimeout)
				fetched, err := m.quotes.LatestQuote(qctx, cmd.Symbol)
				cancel()
				if err != nil {
					log.WarnContext(ctx, "monitor: manual sell without quote", slog.String("error", err.Error()))
					continue
				}
				q = fetched
			}
			sig, ok := m.rules.ManualTrigger(snap, q)
			if !ok {
				log.InfoContext(ctx, "monitor: manual sell suppressed")
				continue
			}
			out = append(out, sig)
		case "reset_state":
			if err := m.ledger.ResetState(cmd.Symbol); err != nil {
				log.WarnContext(ctx, "monitor: reset state failed", slog.String("error", err.Error()))
				continue
			}
			m.rules.ResetSymbol(cmd.Symbol)
		case "reset_rules":
			m.rules.ResetSymbol(cmd.Symbol)
		default:
			log.WarnContext(ctx, "monitor: unknown command")
		}
	}
}

// dispatch executes signals by descending priority. Once a full exit for a
// symbol succeeds, later signals for that symbol in the same cycle are
// dropped, except resubmissions of an existing order.
func (m *Monitor) dispatch(ctx context.Context, log *slog.Logger, signals []domain.Signal) (ok, failed int) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Priority != signals[j].Priority {
			return signals[i].Priority > signals[j].Priority
		}
		return signals[i].Symbol < signals[j].Symbol
	})

	exited := make(map[string]bool)
	for _, sig := range signals {
		now := m.clock()
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = now
		}
		if sig.ExpiresAt.IsZero() {
			sig.ExpiresAt = now.Add(m.cfg.SignalTTL)
		}
		sigLog := log.With(
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("reason", sig.Reason),
			slog.String("direction", string(sig.Direction)),
			slog.Int64("quantity", sig.Quantity),
		)

		if exited[sig.Symbol] && sig.CancelOrderID == "" {
			sigLog.InfoContext(ctx, "monitor: signal preempted by full exit")
			m.abandon(sig)
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
		err := m.dispatcher.Execute(dctx, sig)
		cancel()
		if err != nil {
			failed++
			sigLog.WarnContext(ctx, "monitor: signal dropped", slog.String("error", err.Error()))
			m.abandon(sig)
			continue
		}
		ok++
		if sig.FullExit {
			exited[sig.Symbol] = true
		}
		if sig.Reason == domain.ReasonFirstTakeProfit {
			if _, err := m.ledger.MarkProfitTriggered(sig.Symbol); err != nil {
				sigLog.WarnContext(ctx, "monitor: mark profit triggered failed", slog.String("error", err.Error()))
			}
		}
		m.publishSignal(ctx, sig)
	}
	return ok, failed
}

// abandon undoes the claim a signal made before dispatch.
func (m *Monitor) abandon(sig domain.Signal) {
	if sig.Source != "grid" {
		return
	}
	if _, err := m.ledger.RevertGridLevel(sig.Symbol, sig.GridLevel); err != nil {
		m.logger.Warn("monitor: revert grid level failed",
			slog.String("symbol", sig.Symbol),
			slog.Int("level", sig.GridLevel),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Monitor) publishSignal(ctx context.Context, sig domain.Signal) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelSignals, payload); err != nil {
		m.logger.DebugContext(ctx, "monitor: publish signal failed", slog.String("error", err.Error()))
	}
	if err := m.bus.StreamAppend(ctx, domain.StreamSignals, payload); err != nil {
		m.logger.DebugContext(ctx, "monitor: stream signal failed", slog.String("error", err.Error()))
	}
}
