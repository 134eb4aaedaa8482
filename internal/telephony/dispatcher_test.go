package telephony

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/session"
)

func TestIsE164(t *testing.T) {
	cases := map[string]bool{
		"+14155552671":  true,
		"+491726073488": true,
		"4155552671":    false,
		"+1":            false,
		"not-a-number":  false,
		"":              false,
	}
	for in, want := range cases {
		if got := isE164(in); got != want {
			t.Errorf("isE164(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestResolveNewTimeFromAlternativeTime(t *testing.T) {
	appt := session.Appointment{
		Start: session.TimeSlot{DateTime: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), TimeZone: "UTC"},
	}
	got, err := resolveNewTime(appt, 0, "2026-08-02T15:00:00Z")
	if err != nil {
		t.Fatalf("resolveNewTime() error = %v", err)
	}
	want := time.Date(2026, 8, 2, 15, 0, 0, 0, time.UTC)
	if !got.DateTime.Equal(want) {
		t.Errorf("DateTime = %v, want %v", got.DateTime, want)
	}
}

func TestResolveNewTimeFromWallClockAlternativeTime(t *testing.T) {
	appt := session.Appointment{
		Start: session.TimeSlot{DateTime: time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC), TimeZone: "UTC"},
	}
	got, err := resolveNewTime(appt, 0, "18:00")
	if err != nil {
		t.Fatalf("resolveNewTime() error = %v", err)
	}
	want := time.Date(2025, 10, 14, 18, 0, 0, 0, time.UTC)
	if !got.DateTime.Equal(want) {
		t.Errorf("DateTime = %v, want %v", got.DateTime, want)
	}
}

func TestResolveNewTimeFromDelayMinutes(t *testing.T) {
	start := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	appt := session.Appointment{Start: session.TimeSlot{DateTime: start, TimeZone: "UTC"}}

	got, err := resolveNewTime(appt, 30, "")
	if err != nil {
		t.Fatalf("resolveNewTime() error = %v", err)
	}
	want := start.Add(30 * time.Minute)
	if !got.DateTime.Equal(want) {
		t.Errorf("DateTime = %v, want %v", got.DateTime, want)
	}
}

func TestResolveNewTimeRequiresOneOf(t *testing.T) {
	appt := session.Appointment{Start: session.TimeSlot{DateTime: time.Now()}}
	if _, err := resolveNewTime(appt, 0, ""); err == nil {
		t.Error("resolveNewTime() with neither field set, want error")
	}
}

func TestWaitCooldownReturnsPromptlyWhenDisabled(t *testing.T) {
	d := &Dispatcher{cfg: &config.Config{OutboundCooldownSeconds: 0}}
	start := time.Now()
	if err := d.waitCooldown(context.Background()); err != nil {
		t.Fatalf("waitCooldown() error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("waitCooldown blocked despite a zero cooldown")
	}
}

func TestWaitCooldownAbortsOnContextCancel(t *testing.T) {
	d := &Dispatcher{cfg: &config.Config{OutboundCooldownSeconds: 20}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.waitCooldown(ctx); err == nil {
		t.Error("waitCooldown() with a cancelled context, want error")
	}
}

func TestWatchMediaOpenKeepsSessionWhenMediaOpens(t *testing.T) {
	store := session.NewStore()
	child := session.NewSession("child-1", "", session.DirectionOutbound, session.Peer{})
	if err := store.Put(child); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	d := &Dispatcher{store: store, logger: zerolog.Nop()}
	done := make(chan struct{})
	go func() {
		d.watchMediaOpen(child, "CA-fake")
		close(done)
	}()

	// watchMediaOpen's own timeout is 30s; exercise the MediaOpen path
	// directly instead of waiting on the real timeout.
	child.MarkMediaOpen()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchMediaOpen did not return after MediaOpen fired")
	}

	if _, ok := store.Get("child-1"); !ok {
		t.Error("session was removed even though media opened in time")
	}
}
