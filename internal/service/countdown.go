package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

const (
	warningThreshold = 600
	dangerThreshold  = 300
)

// Countdown is the single deadline of an assessment. The deadline is fixed
// when the countdown is created or resumed; ticks only observe it.
type Countdown struct {
	mu    sync.Mutex
	store storage.Store
	key   string
	now   func() time.Time
	log   zerolog.Logger

	// anchorMs + anchorLeft*1000 is the deadline in epoch millis.
	anchorMs   int64
	anchorLeft int

	timeLeft int
	active   bool
	stopped  bool
	fired    bool

	onExpire func()
	onTick   func(model.TimerView)
}

// NewCountdown resumes the countdown persisted under key, or starts a fresh
// one of initial seconds. now may be nil to use the wall clock.
func NewCountdown(ctx context.Context, st storage.Store, key string, initial int, now func() time.Time, log zerolog.Logger) *Countdown {
	if now == nil {
		now = time.Now
	}
	c := &Countdown{
		store: st,
		key:   key,
		now:   now,
		log:   log.With().Str("component", "countdown").Str("key", key).Logger(),
	}

	nowMs := now().UnixMilli()
	if state, ok := c.load(ctx); ok {
		c.anchorMs = state.StartTime
		c.anchorLeft = state.TimeLeft
		c.timeLeft = c.anchorLeft
		c.timeLeft = c.remainingAt(nowMs)
		c.active = c.timeLeft > 0
		c.log.Info().Int("time_left", c.timeLeft).Msg("Countdown resumed")
		return c
	}

	if initial < 0 {
		initial = 0
	}
	c.anchorMs = nowMs
	c.anchorLeft = initial
	c.timeLeft = initial
	c.active = initial > 0
	c.persist(ctx, c.stateLocked())
	return c
}

func (c *Countdown) load(ctx context.Context) (model.TimerState, bool) {
	var state model.TimerState
	raw, err := c.store.Get(ctx, c.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn().Err(err).Msg("Failed to load countdown, starting fresh")
		}
		return state, false
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		c.log.Warn().Err(err).Msg("Discarding unreadable countdown")
		return state, false
	}
	return state, true
}

// remainingAt is the whole seconds left at nowMs, never negative and never
// more than what was last observed.
func (c *Countdown) remainingAt(nowMs int64) int {
	elapsed := int64(0)
	if nowMs > c.anchorMs {
		elapsed = (nowMs - c.anchorMs) / 1000
	}
	remaining := int64(c.anchorLeft) - elapsed
	if remaining < 0 {
		remaining = 0
	}
	if remaining > int64(c.timeLeft) {
		remaining = int64(c.timeLeft)
	}
	return int(remaining)
}

func (c *Countdown) stateLocked() model.TimerState {
	return model.TimerState{
		TimeLeft:  c.timeLeft,
		IsActive:  c.active,
		StartTime: c.anchorMs + int64(c.anchorLeft-c.timeLeft)*1000,
	}
}

// OnTick registers a hook that receives every tick's snapshot.
func (c *Countdown) OnTick(fn func(model.TimerView)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// Start registers onExpire. When the countdown resumed already expired, the
// callback runs before Start returns.
func (c *Countdown) Start(ctx context.Context, onExpire func()) {
	c.mu.Lock()
	c.onExpire = onExpire
	fire := !c.active && !c.stopped && !c.fired
	if fire {
		c.fired = true
	}
	c.mu.Unlock()

	if fire {
		c.log.Info().Msg("Countdown already expired")
		c.delete(ctx)
		if onExpire != nil {
			onExpire()
		}
	}
}

// Tick observes the deadline once. The Active to Expired transition happens
// exactly once and is the only path that invokes onExpire.
func (c *Countdown) Tick(ctx context.Context) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.timeLeft = c.remainingAt(c.now().UnixMilli())
	expired := c.timeLeft == 0

	var onExpire func()
	if expired {
		c.active = false
		if !c.fired && c.onExpire != nil {
			c.fired = true
			onExpire = c.onExpire
		}
	}
	state := c.stateLocked()
	view := c.viewLocked()
	onTick := c.onTick
	c.mu.Unlock()

	if expired {
		c.delete(ctx)
	} else {
		c.persist(ctx, state)
	}
	if onTick != nil {
		onTick(view)
	}
	if onExpire != nil {
		c.log.Info().Msg("Countdown expired")
		onExpire()
	}
}

// Run ticks every second until the countdown is no longer active or ctx ends.
func (c *Countdown) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
			if !c.IsActive() {
				return
			}
		}
	}
}

// Stop deactivates the countdown without firing onExpire and removes the
// persisted entry.
func (c *Countdown) Stop(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.active = false
	c.mu.Unlock()

	c.delete(ctx)
}

func (c *Countdown) TimeLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeLeft
}

func (c *Countdown) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// FormattedTime renders the remaining time as MM:SS.
func (c *Countdown) FormattedTime() string {
	return FormatDuration(c.TimeLeft())
}

func (c *Countdown) WarningLevel() model.WarningLevel {
	return WarningLevelFor(c.TimeLeft())
}

// View returns the snapshot sent to the UI.
func (c *Countdown) View() model.TimerView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Countdown) viewLocked() model.TimerView {
	return model.TimerView{
		TimeLeft:      c.timeLeft,
		FormattedTime: FormatDuration(c.timeLeft),
		WarningLevel:  WarningLevelFor(c.timeLeft),
		IsActive:      c.active,
	}
}

func (c *Countdown) persist(ctx context.Context, state model.TimerState) {
	raw, err := json.Marshal(state)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode countdown")
		return
	}
	if err := c.store.Set(ctx, c.key, raw); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save countdown")
	}
}

func (c *Countdown) delete(ctx context.Context) {
	if err := c.store.Delete(ctx, c.key); err != nil {
		c.log.Warn().Err(err).Msg("Failed to delete countdown")
	}
}

// FormatDuration renders seconds as zero-padded MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// WarningLevelFor classifies the remaining seconds.
func WarningLevelFor(seconds int) model.WarningLevel {
	switch {
	case seconds <= dangerThreshold:
		return model.WarningDanger
	case seconds <= warningThreshold:
		return model.WarningWarning
	default:
		return model.WarningNormal
	}
}
