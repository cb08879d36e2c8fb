package app

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// Default topics.
const (
	DefaultHeartbeatTopic = "vending/heartbit/+"
	DefaultCardTopic      = "card/data"

	cardQueueSize = 32
)

// EngineConfig configures the orchestration engine.
type EngineConfig struct {
	HeartbeatTopic    string
	CardTopic         string
	CardResponseTopic string
	ShelfTopic        string

	HeartbeatTimeout time.Duration
	WatchdogInterval time.Duration
	DispensePacing   time.Duration
	PublishTimeout   time.Duration
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HeartbeatTopic:    DefaultHeartbeatTopic,
		CardTopic:         DefaultCardTopic,
		CardResponseTopic: DefaultCardResponseTopic,
		ShelfTopic:        DefaultShelfTopic,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		WatchdogInterval:  DefaultWatchdogInterval,
		DispensePacing:    DefaultDispensePacing,
		PublishTimeout:    DefaultPublishTimeout,
	}
}

// Engine owns the broker session and the state fed by it: shelf liveness
// and the card session. It routes inbound messages and exposes dispatch.
type Engine struct {
	mu  sync.Mutex
	cfg EngineConfig

	broker     ports.Broker
	lifecycle  *Lifecycle
	shelves    *ShelfRegistry
	cards      *CardSession
	dispatcher *Dispatcher
	cardEvents chan []byte
	logger     log.Logger
}

// NewEngine wires the registry, card session and dispatcher around broker.
// emitter may be nil.
func NewEngine(cfg EngineConfig, broker ports.Broker, balance BalanceLookup, users ports.UserStore, logger log.Logger, emitter EventEmitter) *Engine {
	def := DefaultEngineConfig()
	if cfg.HeartbeatTopic == "" {
		cfg.HeartbeatTopic = def.HeartbeatTopic
	}
	if cfg.CardTopic == "" {
		cfg.CardTopic = def.CardTopic
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}

	shelves := NewShelfRegistry(cfg.HeartbeatTimeout, logger)
	e := &Engine{
		cfg:       cfg,
		broker:    broker,
		lifecycle: NewLifecycle(logger, emitter),
		shelves:   shelves,
		cards:     NewCardSession(balance, users, broker, cfg.CardResponseTopic, logger),
		dispatcher: NewDispatcher(DispatcherConfig{
			ShelfTopic:     cfg.ShelfTopic,
			Pacing:         cfg.DispensePacing,
			PublishTimeout: cfg.PublishTimeout,
		}, broker, shelves, logger),
		cardEvents: make(chan []byte, cardQueueSize),
		logger:     logger.With(log.String("component", "engine")),
	}
	broker.SetConnectionListener(e)
	return e
}

// Start subscribes to the shelf and card topics, launches the background
// workers and connects to the broker. Connection failures are retried in
// the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := e.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.lifecycle.SetCancel(cancel)

	if err := e.broker.Subscribe(e.cfg.HeartbeatTopic, e.handleHeartbeat); err != nil {
		cancel()
		_ = e.lifecycle.TransitionTo(StateCrashed, "subscribe heartbeat failed")
		return err
	}
	if err := e.broker.Subscribe(e.cfg.CardTopic, e.handleCard); err != nil {
		cancel()
		_ = e.lifecycle.TransitionTo(StateCrashed, "subscribe card failed")
		return err
	}

	e.lifecycle.Go(func() { e.shelves.RunWatchdog(runCtx, e.cfg.WatchdogInterval) })
	e.lifecycle.Go(func() { e.runCardWorker(runCtx) })
	e.lifecycle.Go(func() { e.connect(runCtx) })

	return e.lifecycle.TransitionTo(StateRunning, "workers started")
}

// Stop cancels the workers, waits for them and closes the broker session.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.lifecycle.CanStop() {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := e.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		e.mu.Unlock()
		return err
	}
	e.lifecycle.Cancel()
	e.mu.Unlock()

	err := e.lifecycle.WaitWithTimeout(ShutdownTimeout)
	e.broker.Close()
	e.cards.upserts.Wait()

	if err != nil {
		_ = e.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = e.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return e.lifecycle.State()
}

// DeviceConnected reports whether any shelf is alive.
func (e *Engine) DeviceConnected() bool {
	return e.shelves.AnyAlive()
}

// Card returns the current card session, or nil.
func (e *Engine) Card() *domain.Card {
	return e.cards.Current()
}

// Dispatch dispenses items. It always returns a complete accounting.
func (e *Engine) Dispatch(ctx context.Context, items []domain.LineItem) domain.DispatchResult {
	return e.dispatcher.Dispatch(ctx, items)
}

// Shelves returns the shelf registry.
func (e *Engine) Shelves() *ShelfRegistry { return e.shelves }

// Cards returns the card session.
func (e *Engine) Cards() *CardSession { return e.cards }

// ApplyTunables changes the heartbeat timeout and dispense pacing at
// runtime. A non-positive timeout or a negative pacing is ignored.
func (e *Engine) ApplyTunables(heartbeatTimeout, pacing time.Duration) {
	if heartbeatTimeout > 0 && heartbeatTimeout != e.shelves.Timeout() {
		e.shelves.SetTimeout(heartbeatTimeout)
		e.logger.Info("heartbeat timeout updated", log.Duration("timeout", heartbeatTimeout))
	}
	if pacing >= 0 && pacing != e.dispatcher.Pacing() {
		e.dispatcher.SetPacing(pacing)
		e.logger.Info("dispense pacing updated", log.Duration("pacing", pacing))
	}
}

// OnConnect implements ports.ConnectionListener.
func (e *Engine) OnConnect() {
	e.logger.Info("broker connected")
}

// OnConnectionLost implements ports.ConnectionListener.
func (e *Engine) OnConnectionLost(err error) {
	e.logger.Error("broker connection lost", log.Err(err))
	e.shelves.Disconnect()
	e.cards.Disconnect()
}

func (e *Engine) connect(ctx context.Context) {
	backoff := newBackoff(DefaultBackoffInitial, DefaultBackoffMax)
	for {
		err := e.broker.Connect(ctx)
		if err == nil {
			return
		}
		e.logger.Warn("broker connect failed, retrying",
			log.Err(err),
			log.Duration("backoff", backoff.Current()),
		)
		if backoff.Wait(ctx) != nil {
			return
		}
	}
}

// handleHeartbeat runs on the broker delivery goroutine.
func (e *Engine) handleHeartbeat(msg ports.Message) {
	shelf, ok := shelfFromTopic(msg.Topic)
	if !ok {
		e.logger.Debug("heartbeat on unparseable topic", log.String("topic", msg.Topic))
		return
	}
	e.shelves.Heartbeat(shelf)
}

// handleCard queues the message for the card worker so balance lookups
// never stall heartbeat delivery.
func (e *Engine) handleCard(msg ports.Message) {
	select {
	case e.cardEvents <- msg.Payload:
	default:
		e.logger.Error("card event queue full, message dropped", log.String("payload", string(msg.Payload)))
	}
}

func (e *Engine) runCardWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-e.cardEvents:
			e.cards.HandleMessage(ctx, payload)
		}
	}
}

// shelfFromTopic parses the shelf number from the last topic segment.
func shelfFromTopic(topic string) (domain.ShelfID, bool) {
	seg := topic[strings.LastIndex(topic, "/")+1:]
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return domain.ShelfID(n), true
}
