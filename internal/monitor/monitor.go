// Package monitor runs the single-flight position monitoring loop:
// reconcile, refresh prices, evaluate, dispatch, persist.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/qmtbot/internal/domain"
	"github.com/alanyoungcy/qmtbot/internal/grid"
	"github.com/alanyoungcy/qmtbot/internal/ledger"
	"github.com/alanyoungcy/qmtbot/internal/risk"
	"github.com/alanyoungcy/qmtbot/internal/sellrule"
)

// ErrCycleInProgress is returned by RunCycle when another cycle is running.
var ErrCycleInProgress = errors.New("monitor: cycle in progress")

// Dispatcher executes signals and reports order progress back into the
// ledger. It is implemented by the executor.
type Dispatcher interface {
	Execute(ctx context.Context, sig domain.Signal) error
	SyncOrders(ctx context.Context) error
}

// Config controls loop timing.
type Config struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
	SyncTimeout     time.Duration
	SignalTTL       time.Duration
	// LockKey, when a LockManager is configured, keeps a second process
	// from running cycles against the same account.
	LockKey string
	LockTTL time.Duration
}

// DefaultConfig returns a one-second loop.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Second,
		DispatchTimeout: 10 * time.Second,
		SyncTimeout:     5 * time.Second,
		SignalTTL:       5 * time.Minute,
		LockKey:         "monitor:cycle",
		LockTTL:         30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be > 0"))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dispatch_timeout must be > 0"))
	}
	if c.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync_timeout must be > 0"))
	}
	if c.SignalTTL <= 0 {
		errs = append(errs, fmt.Errorf("signal_ttl must be > 0"))
	}
	if c.LockKey != "" && c.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("lock_ttl must be > 0 when lock_key is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("monitor: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// CycleReport describes one completed cycle.
type CycleReport struct {
	Cycle         uint64        `json:"cycle"`
	Reconciled    bool          `json:"reconciled"`
	Quotes        int           `json:"quotes"`
	QuoteFailures int           `json:"quote_failures"`
	Signals       int           `json:"signals"`
	Dispatched    int           `json:"dispatched"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"duration_ns"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Monitor owns the loop. Evaluation happens only inside RunCycle, so the
// ledger sees a single writer for rule-driven mutations.
type Monitor struct {
	ledger     *ledger.Ledger
	quotes     domain.QuoteSource
	grid       *grid.Engine
	rules      *sellrule.Engine
	dispatcher Dispatcher
	risk       risk.Config
	cfg        Config
	logger     *slog.Logger

	lock  domain.LockManager
	bus   domain.SignalBus
	clock func() time.Time

	running  atomic.Bool
	cycle    atomic.Uint64
	last     atomic.Pointer[CycleReport]
	commands chan domain.Command
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithLockManager serialises cycles across processes.
func WithLockManager(lm domain.LockManager) Option {
	return func(m *Monitor) { m.lock = lm }
}

// WithSignalBus publishes dispatched signals and position snapshots.
func WithSignalBus(bus domain.SignalBus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) { m.clock = clock }
}

// New creates a Monitor.
func New(
	l *ledger.Ledger,
	quotes domain.QuoteSource,
	gridEngine *grid.Engine,
	rules *sellrule.Engine,
	dispatcher Dispatcher,
	riskCfg risk.Config,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		ledger:     l,
		quotes:     quotes,
		grid:       gridEngine,
		rules:      rules,
		dispatcher: dispatcher,
		risk:       riskCfg,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "monitor")),
		clock:      time.Now,
		commands:   make(chan domain.Command, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run drives RunCycle every Interval until ctx is cancelled. A cycle that
// overruns delays the next one; cycles never overlap.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor: started", slog.Duration("interval", m.cfg.Interval))
	defer m.logger.Info("monitor: stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		started := m.clock()
		if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) && !errors.Is(err, domain.ErrLockHeld) {
			m.logger.ErrorContext(ctx, "monitor: cycle failed", slog.String("error", err.Error()))
		}
		wait := m.cfg.Interval - m.clock().Sub(started)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Enqueue queues an operator command for the next cycle. It returns false
// when the queue is full.
func (m *Monitor) Enqueue(cmd domain.Command) bool {
	select {
	case m.commands <- cmd:
		return true
	default:
		return false
	}
}

// ListenCommands forwards commands published on the command channel into
// the queue until ctx is cancelled.
func (m *Monitor) ListenCommands(ctx context.Context) error {
	if m.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ch, err := m.bus.Subscribe(ctx, domain.ChannelCommands)
	if err != nil {
		return fmt.Errorf("monitor: subscribe commands: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd domain.Command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				m.logger.WarnContext(ctx, "monitor: bad command payload", slog.String("error", err.Error()))
				continue
			}
			if !m.Enqueue(cmd) {
				m.logger.WarnContext(ctx, "monitor: command queue full, dropped",
					slog.String("action", cmd.Action),
					slog.String("symbol", cmd.Symbol),
				)
			}
		}
	}
}

// RunCycle performs one monitoring iteration. Collaborator failures are
// logged and isolated; only ErrCycleInProgress and lock contention are
// returned as errors.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleInProgress
	}
	defer m.running.Store(false)

	if m.lock != nil && m.cfg.LockKey != "" {
		unlock, err := m.lock.Acquire(ctx, m.cfg.LockKey, m.cfg.LockTTL)
		if err != nil {
			return CycleReport{}, fmt.Errorf("monitor: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	started := m.clock()
	rep := CycleReport{Cycle: m.cycle.Add(1)}
	log := m.logger.With(slog.Uint64("cycle", rep.Cycle))

	// Fills first, so a failed reconcile still leaves fresh quantities.
	sctx, cancel := context.WithTimeout(ctx, m.cfg.SyncTimeout)
	if err := m.dispatcher.SyncOrders(sctx); err != nil {
		log.WarnContext(ctx, "monitor: order sync failed", slog.String("error", err.Error()))
	}
	cancel()

	res, err := m.ledger.Reconcile(ctx)
	if err != nil {
		log.WarnContext(ctx, "monitor: reconcile skipped", slog.String("error", err.Error()))
	} else {
		rep.Reconciled = true
		for _, sym := range res.Removed {
			m.rules.ResetSymbol(sym)
		}
	}

	refresh := m.ledger.RefreshPrices(ctx, m.quotes)
	rep.Quotes = len(refresh.Quotes)
	rep.QuoteFailures = len(refresh.Failed)

	signals := m.drainCommands(ctx, refresh.Quotes)
	for _, snap := range m.ledger.Snapshots() {
		q, ok := refresh.Quotes[snap.Symbol]
		if !ok {
			continue
		}
		signals = append(signals, m.evaluate(snap, q)...)
	}
	signals = append(signals, m.rules.CheckTimeouts(refresh.Quotes)...)
	rep.Signals = len(signals)

	rep.Dispatched, rep.Failed = m.dispatch(ctx, log, signals)

	if _, err := m.ledger.Flush(ctx); err != nil {
		log.WarnContext(ctx, "monitor: persistence deferred", slog.String("error", err.Error()))
	}
	m.publishPositions(ctx)

	rep.FinishedAt = m.clock()
	rep.Duration = rep.FinishedAt.Sub(started)
	m.last.Store(&rep)
	if rep.Signals > 0 || rep.QuoteFailures > 0 || !rep.Reconciled {
		log.InfoContext(ctx, "monitor: cycle complete",
			slog.Bool("reconciled", rep.Reconciled),
			slog.Int("quotes", rep.Quotes),
			slog.Int("quote_failures", rep.QuoteFailures),
			slog.Int("signals", rep.Signals),
			slog.Int("dispatched", rep.Dispatched),
			slog.Int("failed", rep.Failed),
			slog.Duration("duration", rep.Duration),
		)
	}
	return rep, nil
}

// LastReport returns the most recent completed cycle, if any.
func (m *Monitor) LastReport() (CycleReport, bool) {
	rep := m.last.Load()
	if rep == nil {
		return CycleReport{}, false
	}
	return *rep, true
}

// Running reports whether a cycle is executing right now.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

func (m *Monitor) publishPositions(ctx context.Context) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(m.ledger.Snapshots())
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		m.logger.DebugContext(ctx, "monitor: publish positions failed", slog.String("error", err.Error()))
	}
}
