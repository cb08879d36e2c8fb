package app

import (
	"context"
	"testing"
	"time"

	"github.com/bft-labs/kiosk/internal/domain"
	"github.com/bft-labs/kiosk/pkg/log"
)

func newTestRegistry(start time.Time) (*ShelfRegistry, *time.Time) {
	now := start
	r := NewShelfRegistry(30*time.Second, log.NewNoopLogger())
	r.now = func() time.Time { return now }
	return r, &now
}

func TestShelfRegistry_HeartbeatMarksAlive(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))

	if r.AnyAlive() {
		t.Fatal("new registry should have no alive shelves")
	}
	r.Heartbeat(2)
	if !r.IsAlive(2) {
		t.Error("shelf 2 should be alive after heartbeat")
	}
	if r.IsAlive(1) {
		t.Error("shelf 1 should still be dead")
	}
	if !r.AnyAlive() {
		t.Error("AnyAlive should be true")
	}
}

func TestShelfRegistry_IgnoresInvalidShelf(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))

	for _, s := range []domain.ShelfID{0, 6, -1, 99} {
		r.Heartbeat(s)
		if r.IsAlive(s) {
			t.Errorf("shelf %d should never be alive", s)
		}
	}
	if r.AnyAlive() {
		t.Error("invalid heartbeats must not make the device connected")
	}
}

func TestShelfRegistry_SweepDemotesStaleShelves(t *testing.T) {
	start := time.Unix(1000, 0)
	r, now := newTestRegistry(start)

	r.Heartbeat(1)
	*now = start.Add(20 * time.Second)
	r.Heartbeat(3)

	tests := []struct {
		name      string
		at        time.Duration
		wantAlive map[domain.ShelfID]bool
	}{
		{"within window", 30 * time.Second, map[domain.ShelfID]bool{1: true, 3: true}},
		{"shelf 1 stale", 31 * time.Second, map[domain.ShelfID]bool{1: false, 3: true}},
		{"both stale", 51 * time.Second, map[domain.ShelfID]bool{1: false, 3: false}},
	}

	for _, tt := range tests {
		r.Sweep(start.Add(tt.at))
		for s, want := range tt.wantAlive {
			if got := r.IsAlive(s); got != want {
				t.Errorf("%s: IsAlive(%d) = %v, want %v", tt.name, s, got, want)
			}
		}
	}
}

func TestShelfRegistry_SweepReturnsDemoted(t *testing.T) {
	start := time.Unix(1000, 0)
	r, _ := newTestRegistry(start)
	r.Heartbeat(4)
	r.Heartbeat(5)

	demoted := r.Sweep(start.Add(time.Minute))
	if len(demoted) != 2 || demoted[0] != 4 || demoted[1] != 5 {
		t.Errorf("demoted = %v, want [4 5]", demoted)
	}
	if again := r.Sweep(start.Add(2 * time.Minute)); len(again) != 0 {
		t.Errorf("second sweep demoted %v, want none", again)
	}
}

func TestShelfRegistry_DetectedWithinOneTickOfDeadline(t *testing.T) {
	start := time.Unix(1000, 0)
	r, _ := newTestRegistry(start)
	r.Heartbeat(2)

	// Sweeps every 5s starting at an arbitrary phase.
	deadline := start.Add(30 * time.Second)
	var demotedAt time.Time
	for tick := start.Add(3 * time.Second); tick.Before(start.Add(time.Minute)); tick = tick.Add(5 * time.Second) {
		if len(r.Sweep(tick)) > 0 {
			demotedAt = tick
			break
		}
	}
	if demotedAt.IsZero() {
		t.Fatal("shelf never demoted")
	}
	if lag := demotedAt.Sub(deadline); lag <= 0 || lag > 5*time.Second {
		t.Errorf("demoted %v after deadline, want within (0, 5s]", lag)
	}
}

func TestShelfRegistry_Disconnect(t *testing.T) {
	r, _ := newTestRegistry(time.Unix(1000, 0))
	for s := domain.ShelfID(1); s <= domain.ShelfCount; s++ {
		r.Heartbeat(s)
	}

	r.Disconnect()

	if r.AnyAlive() {
		t.Error("AnyAlive should be false after disconnect")
	}
	for _, st := range r.Snapshot() {
		if st.Alive {
			t.Errorf("shelf %d still alive", st.Shelf)
		}
	}
}

func TestShelfRegistry_SetTimeout(t *testing.T) {
	start := time.Unix(1000, 0)
	r, _ := newTestRegistry(start)
	r.Heartbeat(1)

	r.SetTimeout(10 * time.Second)
	r.SetTimeout(0) // ignored
	if got := r.Timeout(); got != 10*time.Second {
		t.Fatalf("Timeout() = %v, want 10s", got)
	}
	r.Sweep(start.Add(11 * time.Second))
	if r.IsAlive(1) {
		t.Error("shelf 1 should be demoted under the shorter timeout")
	}
}

func TestShelfRegistry_RunWatchdog(t *testing.T) {
	r := NewShelfRegistry(20*time.Millisecond, log.NewNoopLogger())
	r.Heartbeat(3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunWatchdog(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.IsAlive(3) {
		select {
		case <-deadline:
			t.Fatal("watchdog did not demote shelf 3")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop on cancel")
	}
}
