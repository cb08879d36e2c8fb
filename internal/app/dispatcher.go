package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/internal/ports"
	"github.com/bft-labs/kiosk/pkg/log"
)

// Dispatch defaults.
const (
	DefaultDispensePacing = time.Second
	DefaultPublishTimeout = 10 * time.Second
	DefaultShelfTopic     = "vending/shelf/%d"
)

// ShelfLiveness answers whether a shelf can currently accept commands.
type ShelfLiveness interface {
	IsAlive(shelf domain.ShelfID) bool
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// ShelfTopic is a fmt pattern taking the shelf number.
	ShelfTopic string

	// Pacing is the delay between consecutive publishes to the same shelf.
	Pacing time.Duration

	// PublishTimeout bounds the wait for one broker acknowledgment.
	PublishTimeout time.Duration
}

// Dispatcher routes line items to shelves and publishes dispense commands.
//
// Shelves are visited in descending order and items within a shelf in
// arrival order, strictly one publish at a time.
type Dispatcher struct {
	publisher ports.Publisher
	shelves   ShelfLiveness
	cfg       DispatcherConfig
	pacing    atomic.Int64
	logger    log.Logger

	// wait is replaced in tests.
	wait func(time.Duration)
}

// NewDispatcher creates a dispatcher publishing through publisher.
func NewDispatcher(cfg DispatcherConfig, publisher ports.Publisher, shelves ShelfLiveness, logger log.Logger) *Dispatcher {
	if cfg.ShelfTopic == "" {
		cfg.ShelfTopic = DefaultShelfTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	d := &Dispatcher{
		publisher: publisher,
		shelves:   shelves,
		cfg:       cfg,
		logger:    logger.With(log.String("component", "dispatcher")),
		wait:      time.Sleep,
	}
	d.pacing.Store(int64(cfg.Pacing))
	return d
}

// SetPacing changes the inter-publish delay. Used by config reload.
func (d *Dispatcher) SetPacing(p time.Duration) {
	if p < 0 {
		return
	}
	d.pacing.Store(int64(p))
}

// Pacing returns the current inter-publish delay.
func (d *Dispatcher) Pacing() time.Duration {
	return time.Duration(d.pacing.Load())
}

// Dispatch publishes a dispense command for every routable item and returns
// the complete accounting. Unroutable product ids are dropped. Dispatch is
// never aborted half-way: cancellation of ctx does not stop it.
func (d *Dispatcher) Dispatch(ctx context.Context, items []domain.LineItem) domain.DispatchResult {
	ctx = context.WithoutCancel(ctx)
	var res domain.DispatchResult

	if !d.publisher.Connected() {
		d.logger.Error("broker not connected, failing order", log.Int("items", len(items)))
		for _, it := range items {
			res.Failed = append(res.Failed, it.AsFailed())
		}
		return res
	}

	queues := make(map[domain.ShelfID][]domain.LineItem, domain.ShelfCount)
	for _, it := range items {
		shelf, ok := domain.ShelfFor(it.ID)
		if !ok {
			d.logger.Warn("unroutable product dropped", log.Int("product", it.ID))
			continue
		}
		queues[shelf] = append(queues[shelf], domain.LineItem{ID: it.ID, Quantity: it.Quantity})
	}

	for _, shelf := range domain.ShelvesDescending() {
		queue := queues[shelf]
		if len(queue) == 0 {
			continue
		}
		d.logger.Info("processing shelf", log.Int("shelf", int(shelf)), log.Int("items", len(queue)))
		d.drainShelf(ctx, shelf, queue, &res)
	}

	d.logger.Info("dispatch complete",
		log.Int("successful", len(res.Successful)),
		log.Int("failed", len(res.Failed)),
	)
	return res
}

func (d *Dispatcher) drainShelf(ctx context.Context, shelf domain.ShelfID, queue []domain.LineItem, res *domain.DispatchResult) {
	topic := fmt.Sprintf(d.cfg.ShelfTopic, int(shelf))
	pending := false

	for _, it := range queue {
		if pending {
			if p := d.Pacing(); p > 0 {
				d.wait(p)
			}
			pending = false
		}

		if !d.publisher.Connected() || !d.shelves.IsAlive(shelf) {
			d.logger.Warn("shelf unreachable, item failed",
				log.Int("shelf", int(shelf)),
				log.String("command", it.Command()),
			)
			res.Failed = append(res.Failed, it.AsFailed())
			continue
		}

		// Set before the outcome is known: a rejected publish may still
		// have reached the shelf, so the next command is paced either way.
		pending = true

		if err := d.publish(ctx, topic, it); err != nil {
			d.logger.Error("dispense publish failed",
				log.String("topic", topic),
				log.String("command", it.Command()),
				log.Err(err),
			)
			res.Failed = append(res.Failed, it.AsFailed())
			continue
		}
		d.logger.Info("dispense published", log.String("topic", topic), log.String("command", it.Command()))
		res.Successful = append(res.Successful, it)
	}
}

func (d *Dispatcher) publish(ctx context.Context, topic string, it domain.LineItem) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	return d.publisher.Publish(ctx, topic, []byte(it.Command()))
}
