package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/storage"
)

const timerKey = "assess:1:timer"

func loadTimer(t *testing.T, st storage.Store) (model.TimerState, bool) {
	t.Helper()
	raw, err := st.Get(context.Background(), timerKey)
	if errors.Is(err, storage.ErrNotFound) {
		return model.TimerState{}, false
	}
	if err != nil {
		t.Fatalf("get timer: %v", err)
	}
	var state model.TimerState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode timer: %v", err)
	}
	return state, true
}

func saveTimer(t *testing.T, st storage.Store, state model.TimerState) {
	t.Helper()
	raw, _ := json.Marshal(state)
	if err := st.Set(context.Background(), timerKey, raw); err != nil {
		t.Fatalf("set timer: %v", err)
	}
}

func TestCountdownFreshStart(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()

	cd := NewCountdown(ctx, st, timerKey, 3600, clock.Now, zerolog.Nop())
	if cd.TimeLeft() != 3600 || !cd.IsActive() || cd.FormattedTime() != "60:00" {
		t.Fatalf("unexpected fresh countdown: %d %v %s", cd.TimeLeft(), cd.IsActive(), cd.FormattedTime())
	}
	state, ok := loadTimer(t, st)
	if !ok || state.TimeLeft != 3600 || !state.IsActive || state.StartTime != clock.Now().UnixMilli() {
		t.Fatalf("unexpected persisted state: %+v", state)
	}
}

func TestCountdownTickPersistsReanchoredState(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()
	start := clock.Now().UnixMilli()

	cd := NewCountdown(ctx, st, timerKey, 3600, clock.Now, zerolog.Nop())
	clock.Advance(1500 * time.Millisecond)
	cd.Tick(ctx)

	if cd.TimeLeft() != 3599 {
		t.Fatalf("expected 3599, got %d", cd.TimeLeft())
	}
	state, _ := loadTimer(t, st)
	if state.TimeLeft != 3599 || state.StartTime != start+1000 {
		t.Fatalf("unexpected persisted state: %+v", state)
	}

	// A reload at the same instant lands on the same value.
	resumed := NewCountdown(ctx, st, timerKey, 3600, clock.Now, zerolog.Nop())
	if resumed.TimeLeft() != 3599 {
		t.Fatalf("resume drifted to %d", resumed.TimeLeft())
	}
}

func TestCountdownResumeSubtractsElapsed(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()
	saveTimer(t, st, model.TimerState{
		TimeLeft:  600,
		IsActive:  true,
		StartTime: clock.Now().Add(-100500 * time.Millisecond).UnixMilli(),
	})

	cd := NewCountdown(ctx, st, timerKey, 3600, clock.Now, zerolog.Nop())
	if cd.TimeLeft() != 500 || !cd.IsActive() {
		t.Fatalf("expected 500 active, got %d %v", cd.TimeLeft(), cd.IsActive())
	}
}

func TestCountdownResumeAlreadyExpiredFiresOnce(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()
	saveTimer(t, st, model.TimerState{
		TimeLeft:  3600,
		IsActive:  true,
		StartTime: clock.Now().Add(-3700 * time.Second).UnixMilli(),
	})

	cd := NewCountdown(ctx, st, timerKey, 3600, clock.Now, zerolog.Nop())
	if cd.TimeLeft() != 0 || cd.IsActive() {
		t.Fatalf("expected expired countdown, got %d %v", cd.TimeLeft(), cd.IsActive())
	}

	fired := 0
	cd.Start(ctx, func() { fired++ })
	clock.Advance(time.Second)
	cd.Tick(ctx)
	cd.Tick(ctx)

	if fired != 1 {
		t.Fatalf("expected onExpire exactly once, got %d", fired)
	}
	if _, ok := loadTimer(t, st); ok {
		t.Fatalf("expected timer entry to be removed")
	}
}

func TestCountdownExpiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()

	cd := NewCountdown(ctx, st, timerKey, 2, clock.Now, zerolog.Nop())
	fired := 0
	var ticks []int
	cd.OnTick(func(v model.TimerView) { ticks = append(ticks, v.TimeLeft) })
	cd.Start(ctx, func() { fired++ })
	if fired != 0 {
		t.Fatalf("fresh countdown must not fire on start")
	}

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		cd.Tick(ctx)
	}

	if fired != 1 {
		t.Fatalf("expected one expiry, got %d", fired)
	}
	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 0 {
		t.Fatalf("unexpected ticks: %v", ticks)
	}
	if cd.IsActive() || cd.TimeLeft() != 0 {
		t.Fatalf("expected inactive at zero")
	}
	if _, ok := loadTimer(t, st); ok {
		t.Fatalf("expected timer entry to be removed")
	}
}

func TestCountdownNeverIncreases(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cd := NewCountdown(ctx, storage.NewMemoryStore(), timerKey, 100, clock.Now, zerolog.Nop())

	clock.Advance(10 * time.Second)
	cd.Tick(ctx)
	clock.Advance(-30 * time.Second)
	cd.Tick(ctx)

	if cd.TimeLeft() != 90 {
		t.Fatalf("expected clamp at 90, got %d", cd.TimeLeft())
	}
}

func TestCountdownStopDoesNotFire(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	clock := newFakeClock()

	cd := NewCountdown(ctx, st, timerKey, 2, clock.Now, zerolog.Nop())
	fired := 0
	cd.Start(ctx, func() { fired++ })
	cd.Stop(ctx)
	clock.Advance(5 * time.Second)
	cd.Tick(ctx)

	if fired != 0 || cd.IsActive() {
		t.Fatalf("stopped countdown fired=%d active=%v", fired, cd.IsActive())
	}
	if _, ok := loadTimer(t, st); ok {
		t.Fatalf("expected timer entry to be removed")
	}
}

func TestCountdownSurvivesBrokenStore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cd := NewCountdown(ctx, brokenStore{}, timerKey, 10, clock.Now, zerolog.Nop())

	clock.Advance(3 * time.Second)
	cd.Tick(ctx)
	if cd.TimeLeft() != 7 {
		t.Fatalf("expected 7, got %d", cd.TimeLeft())
	}
}

func TestWarningLevelFor(t *testing.T) {
	cases := []struct {
		seconds int
		want    model.WarningLevel
	}{
		{3600, model.WarningNormal},
		{601, model.WarningNormal},
		{600, model.WarningWarning},
		{301, model.WarningWarning},
		{300, model.WarningDanger},
		{0, model.WarningDanger},
	}
	for _, tc := range cases {
		if got := WarningLevelFor(tc.seconds); got != tc.want {
			t.Errorf("WarningLevelFor(%d) = %s, want %s", tc.seconds, got, tc.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int]string{
		0:    "00:00",
		9:    "00:09",
		65:   "01:05",
		600:  "10:00",
		3600: "60:00",
		-4:   "00:00",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%d) = %q, want %q", in, got, want)
		}
	}
}
