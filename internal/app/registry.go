package app

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/pkg/log"
)

// Default liveness parameters.
const (
	DefaultHeartbeatTimeout = 30 * time.Second
	DefaultWatchdogInterval = 5 * time.Second
)

type shelfState struct {
	alive         bool
	lastHeartbeat time.Time
}

// ShelfRegistry tracks liveness of every shelf. A shelf is alive only if a
// heartbeat arrived within the heartbeat timeout; staleness is detected by
// the watchdog sweep, not by message arrival.
type ShelfRegistry struct {
	mu      sync.RWMutex
	shelves [domain.ShelfCount + 1]shelfState // index 0 unused
	timeout time.Duration
	now     func() time.Time
	logger  log.Logger
}

// NewShelfRegistry creates a registry with every shelf dead.
func NewShelfRegistry(timeout time.Duration, logger log.Logger) *ShelfRegistry {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &ShelfRegistry{
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With(log.String("component", "shelves")),
	}
}

// Heartbeat marks shelf alive. Ids outside 1..5 are ignored.
func (r *ShelfRegistry) Heartbeat(shelf domain.ShelfID) {
	if !shelf.Valid() {
		r.logger.Debug("heartbeat from unknown shelf ignored", log.Int("shelf", int(shelf)))
		return
	}
	r.mu.Lock()
	st := &r.shelves[shelf]
	revived := !st.alive
	st.alive = true
	st.lastHeartbeat = r.now()
	r.mu.Unlock()

	if revived {
		r.logger.Info("shelf connected", log.Int("shelf", int(shelf)))
	} else {
		r.logger.Debug("heartbeat", log.Int("shelf", int(shelf)))
	}
}

// Disconnect marks every shelf dead. Called once per lost broker connection.
func (r *ShelfRegistry) Disconnect() {
	r.mu.Lock()
	for s := 1; s <= domain.ShelfCount; s++ {
		r.shelves[s].alive = false
	}
	r.mu.Unlock()
	r.logger.Warn("all shelves marked disconnected (broker connection lost)")
}

// Sweep demotes every alive shelf whose last heartbeat is older than the
// timeout at now. It returns the shelves it demoted.
func (r *ShelfRegistry) Sweep(now time.Time) []domain.ShelfID {
	var demoted []domain.ShelfID

	r.mu.Lock()
	for s := 1; s <= domain.ShelfCount; s++ {
		st := &r.shelves[s]
		if st.alive && now.Sub(st.lastHeartbeat) > r.timeout {
			st.alive = false
			demoted = append(demoted, domain.ShelfID(s))
		}
	}
	r.mu.Unlock()

	for _, s := range demoted {
		r.logger.Warn("shelf marked disconnected (no heartbeat)", log.Int("shelf", int(s)))
	}
	return demoted
}

// RunWatchdog sweeps every interval until ctx ends.
func (r *ShelfRegistry) RunWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// IsAlive reports whether shelf is currently alive.
func (r *ShelfRegistry) IsAlive(shelf domain.ShelfID) bool {
	if !shelf.Valid() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.shelves[shelf].alive
}

// AnyAlive reports whether at least one shelf is alive. This is the
// externally visible "device connected" signal.
func (r *ShelfRegistry) AnyAlive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := 1; s <= domain.ShelfCount; s++ {
		if r.shelves[s].alive {
			return true
		}
	}
	return false
}

// Snapshot returns the state of every shelf in ascending order.
func (r *ShelfRegistry) Snapshot() []domain.ShelfStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ShelfStatus, 0, domain.ShelfCount)
	for s := 1; s <= domain.ShelfCount; s++ {
		out = append(out, domain.ShelfStatus{
			Shelf:           domain.ShelfID(s),
			Alive:           r.shelves[s].alive,
			LastHeartbeatAt: r.shelves[s].lastHeartbeat,
		})
	}
	return out
}

// SetTimeout changes the staleness window. Used by config reload.
func (r *ShelfRegistry) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Timeout returns the current staleness window.
func (r *ShelfRegistry) Timeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeout
}
