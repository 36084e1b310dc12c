package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/config"
	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/executor"
	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/logger"
	"github.com/camuig/riskbot/internal/storage"
	"github.com/camuig/riskbot/internal/strategy"
)

// ErrWalletInUse is returned when a wallet already backs a registered bot.
var ErrWalletInUse = errors.New("wallet already backs a running bot")

// Store is the persistence the scheduler reads bots from and writes results to.
type Store interface {
	LoadBotConfig(ctx context.Context, id uint) (*storage.BotConfig, error)
	UpdateBotConfig(ctx context.Context, id uint, patch storage.BotPatch) error
	ListBotsByStatus(ctx context.Context, status string) ([]storage.BotConfig, error)
	OpenTradeForBot(ctx context.Context, botID uint, symbol string) (*storage.TradeRecord, error)
	BotDailyPnl(ctx context.Context, botID uint, since time.Time) (decimal.Decimal, error)
	SaveBotRun(ctx context.Context, run *storage.BotRun) error
}

// Credentials unlocks wallet keys for the duration of fn.
type Credentials interface {
	WithKey(ctx context.Context, walletID uint, secret string, fn func(*keystore.Key) error) error
	Verify(ctx context.Context, walletID uint, secret string) error
}

type Notifier interface {
	NotifyBotError(bot string, err error)
}

// handle is a registered bot. It holds the means to unlock the key, never the key.
type handle struct {
	botID    uint
	walletID uint
	secret   string

	cancel   context.CancelFunc
	inFlight atomic.Bool
	ticks    atomic.Int64
	skipped  atomic.Int64

	// touched only by the tick in flight
	lastPrice decimal.Decimal
	failures  int
}

type Scheduler struct {
	store    Store
	keys     Credentials
	factory  exchange.Factory
	executor *executor.Executor
	advisor  strategy.Advisor
	notifier Notifier
	config   *config.Config
	logger   *logger.Logger

	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	bots map[uint]*handle
}

func NewScheduler(
	store Store,
	keys Credentials,
	factory exchange.Factory,
	exec *executor.Executor,
	advisor strategy.Advisor,
	notifier Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Scheduler{
		store:    store,
		keys:     keys,
		factory:  factory,
		executor: exec,
		advisor:  advisor,
		notifier: notifier,
		config:   cfg,
		logger:   log,
		interval: cfg.TickInterval(),
		ctx:      ctx,
		cancel:   cancel,
		bots:     make(map[uint]*handle),
	}
}

// Register starts ticking the bot: once immediately, then every interval.
// Registering a registered bot is a no-op.
func (s *Scheduler) Register(botID, walletID uint, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return errors.New("scheduler is shut down")
	}
	if _, ok := s.bots[botID]; ok {
		s.logger.Info("bot already registered", "bot", botID)
		return nil
	}
	for _, h := range s.bots {
		if h.walletID == walletID {
			return fmt.Errorf("%w: wallet %d is used by bot %d", ErrWalletInUse, walletID, h.botID)
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &handle{botID: botID, walletID: walletID, secret: secret, cancel: cancel}
	s.bots[botID] = h

	s.wg.Add(1)
	go s.loop(ctx, h)

	s.logger.Info("bot registered", "bot", botID, "wallet", walletID, "interval", s.interval.String())
	return nil
}

// Unregister stops the bot's timer and drops it. Unknown ids are ignored.
func (s *Scheduler) Unregister(botID uint) {
	s.mu.Lock()
	h, ok := s.bots[botID]
	if ok {
		delete(s.bots, botID)
	}
	s.mu.Unlock()

	if ok {
		h.cancel()
		s.logger.Info("bot unregistered", "bot", botID)
	}
}

// drop unregisters h unless the bot was re-registered in the meantime.
func (s *Scheduler) drop(h *handle) {
	s.mu.Lock()
	if cur, ok := s.bots[h.botID]; ok && cur == h {
		delete(s.bots, h.botID)
	}
	s.mu.Unlock()
	h.cancel()
}

func (s *Scheduler) IsRegistered(botID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bots[botID]
	return ok
}

// Registered returns the ids of registered bots in ascending order.
func (s *Scheduler) Registered() []uint {
	s.mu.Lock()
	ids := make([]uint, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Start checks the secret unlocks the bot's wallet, marks it running and registers it.
func (s *Scheduler) Start(ctx context.Context, botID uint, secret string) error {
	bot, err := s.store.LoadBotConfig(ctx, botID)
	if err != nil {
		return err
	}
	if err := s.keys.Verify(ctx, bot.WalletID, secret); err != nil {
		return fmt.Errorf("unlock wallet %d: %w", bot.WalletID, err)
	}
	if s.walletBusy(bot.WalletID, botID) {
		return fmt.Errorf("%w: wallet %d", ErrWalletInUse, bot.WalletID)
	}

	running, msg := storage.BotRunning, ""
	if err := s.store.UpdateBotConfig(ctx, botID, storage.BotPatch{Status: &running, StatusMessage: &msg}); err != nil {
		return err
	}
	if err := s.Register(botID, bot.WalletID, secret); err != nil {
		stopped := storage.BotStopped
		_ = s.store.UpdateBotConfig(ctx, botID, storage.BotPatch{Status: &stopped})
		return err
	}
	return nil
}

// Stop unregisters the bot and marks it stopped.
func (s *Scheduler) Stop(ctx context.Context, botID uint) error {
	s.Unregister(botID)
	stopped, msg := storage.BotStopped, "stopped by user"
	return s.store.UpdateBotConfig(ctx, botID, storage.BotPatch{Status: &stopped, StatusMessage: &msg})
}

func (s *Scheduler) walletBusy(walletID, except uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.bots {
		if h.walletID == walletID && h.botID != except {
			return true
		}
	}
	return false
}

// ReconcileOnStartup stops bots left running by a previous process. Their
// secrets were never persisted, so they need an explicit start.
func (s *Scheduler) ReconcileOnStartup(ctx context.Context) (int, error) {
	bots, err := s.store.ListBotsByStatus(ctx, storage.BotRunning)
	if err != nil {
		return 0, err
	}
	stopped, msg := storage.BotStopped, "stopped by restart, start again to resume"
	for _, b := range bots {
		if s.IsRegistered(b.ID) {
			continue
		}
		if err := s.store.UpdateBotConfig(ctx, b.ID, storage.BotPatch{Status: &stopped, StatusMessage: &msg}); err != nil {
			return 0, err
		}
		s.logger.Info("bot stopped on startup", "bot", b.ID, "name", b.Name)
	}
	return len(bots), nil
}

// Shutdown stops every timer and waits for ticks in flight, or for ctx.
// Bot statuses are left as they are.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.bots = make(map[uint]*handle)
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, h *handle) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on register
	s.fire(ctx, h)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, h)
		}
	}
}

// fire starts a tick unless the previous one is still running. The timer
// goroutine never waits on a tick.
func (s *Scheduler) fire(ctx context.Context, h *handle) {
	if ctx.Err() != nil {
		return
	}
	if !h.inFlight.CompareAndSwap(false, true) {
		h.skipped.Add(1)
		s.logger.Debug("previous tick still running, skipping", "bot", h.botID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.inFlight.Store(false)
		s.runTick(ctx, h)
	}()
}

func (s *Scheduler) runTick(ctx context.Context, h *handle) {
	h.ticks.Add(1)

	var res TickResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				res = fatal(fmt.Errorf("panic in tick: %v", r))
			}
		}()
		res = s.tick(ctx, h)
	}()

	s.finish(ctx, h, res)
}

// finish records the tick and applies the bot-level consequences of its outcome.
func (s *Scheduler) finish(ctx context.Context, h *handle, res TickResult) {
	log := s.logger.With("bot", h.botID)

	if res.Outcome == OutcomeUnregistered {
		s.drop(h)
		log.Info("bot no longer running, unregistered", "detail", res.Detail)
		return
	}
	if ctx.Err() != nil {
		// stopped while the tick was in flight
		log.Debug("tick interrupted", "outcome", res.Outcome, "error", res.Err)
		return
	}

	wctx := context.WithoutCancel(ctx)

	if res.Outcome == OutcomeFailed {
		h.failures++
		if limit := s.config.Trading.MaxConsecutiveFailures; limit > 0 && h.failures >= limit && !res.Fatal {
			res.Fatal = true
			res.Err = fmt.Errorf("%d consecutive failed ticks, last: %w", h.failures, res.Err)
		}
	} else {
		h.failures = 0
	}

	run := &storage.BotRun{
		BotID:     h.botID,
		Outcome:   string(res.Outcome),
		Signal:    res.Signal,
		Price:     res.Price,
		Available: res.Available,
		Detail:    res.Detail,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if err := s.store.SaveBotRun(wctx, run); err != nil {
		log.Error("save bot run", "error", err)
	}

	now := time.Now().UTC()
	if err := s.store.UpdateBotConfig(wctx, h.botID, storage.BotPatch{LastRunAt: &now}); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("update last run", "error", err)
	}

	switch {
	case res.Fatal:
		s.fail(wctx, h, res.Err)
	case res.Outcome == OutcomeFailed:
		log.Warn("tick failed", "failures", h.failures, "error", res.Err)
	default:
		log.Info("tick done", "outcome", res.Outcome, "signal", res.Signal, "price", res.Price, "detail", res.Detail)
	}
}

// fail moves the bot to error and unregisters it. Other bots are untouched.
func (s *Scheduler) fail(ctx context.Context, h *handle, cause error) {
	s.drop(h)

	status, msg := storage.BotError, cause.Error()
	if err := s.store.UpdateBotConfig(ctx, h.botID, storage.BotPatch{Status: &status, StatusMessage: &msg}); err != nil {
		s.logger.Error("set bot error status", "bot", h.botID, "error", err)
	}

	name := fmt.Sprintf("bot %d", h.botID)
	if bot, err := s.store.LoadBotConfig(ctx, h.botID); err == nil && bot.Name != "" {
		name = bot.Name
	}
	s.logger.Error("bot stopped on error", "bot", h.botID, "error", cause)
	s.notifier.NotifyBotError(name, cause)
}

type nopNotifier struct{}

func (nopNotifier) NotifyBotError(string, error) {}
