package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"csgo-quant/internal/logger"
	"csgo-quant/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSchedulerOneSlotPerJob(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(m, logger.Discard())

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	runs := 0
	s.Register("collect", func(ctx context.Context) error {
		runs++
		started <- struct{}{}
		<-release
		return nil
	}, 0)
	s.Register("daily", func(ctx context.Context) error { return errors.New("boom") }, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !s.Trigger("collect") {
		t.Fatal("first trigger rejected")
	}
	go s.Run(ctx)
	<-started

	// running: a second trigger is dropped
	if s.Trigger("collect") {
		t.Fatal("trigger accepted while running")
	}
	if !s.Trigger("daily") {
		t.Fatal("other job rejected")
	}
	if s.Trigger("daily") {
		t.Fatal("queued job accepted twice")
	}
	if got := testutil.ToFloat64(m.JobsSkipped.WithLabelValues("collect")); got != 1 {
		t.Fatalf("collect skipped = %v", got)
	}
	if s.Trigger("unknown") {
		t.Fatal("unknown job accepted")
	}

	close(release)
	waitFor(t, func() bool {
		return testutil.ToFloat64(m.JobRuns.WithLabelValues("daily", "error")) == 1
	})

	status := s.Status()
	if len(status) != 2 || status[0].Name != "collect" || status[0].Runs != 1 || status[1].LastError != "boom" {
		t.Fatalf("status = %+v", status)
	}
	if runs != 1 {
		t.Fatalf("collect ran %d times", runs)
	}

	// slot is free again after completion
	if !s.Trigger("collect") {
		t.Fatal("trigger after completion rejected")
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(m, logger.Discard())
	s.Register("bad", func(ctx context.Context) error { panic("nil map") }, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	s.Trigger("bad")
	waitFor(t, func() bool { return testutil.ToFloat64(m.JobRuns.WithLabelValues("bad", "error")) == 1 })
}

func TestNextDaily(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 5, 1, 0, 5, 0, 0, loc), time.Date(2026, 5, 1, 0, 10, 0, 0, loc)},
		{time.Date(2026, 5, 1, 0, 10, 0, 0, loc), time.Date(2026, 5, 2, 0, 10, 0, 0, loc)},
		{time.Date(2026, 5, 31, 23, 59, 0, 0, loc), time.Date(2026, 6, 1, 0, 10, 0, 0, loc)},
	}
	for _, c := range cases {
		if got := NextDaily(c.now, 0, 10); !got.Equal(c.want) {
			t.Errorf("NextDaily(%v) = %v, want %v", c.now, got, c.want)
		}
	}
	if _, _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected invalid clock")
	}
	if h, m, err := ParseClock("00:10"); err != nil || h != 0 || m != 10 {
		t.Fatalf("ParseClock = %d:%d %v", h, m, err)
	}
}

func TestItemLockerSerializes(t *testing.T) {
	l := NewItemLocker(nil, 0)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "AK")
	if err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "AK"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lock = %v", err)
	}

	other, err := l.Lock(ctx, "AWP")
	if err != nil {
		t.Fatal(err)
	}
	other()

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "AK")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	unlock()
	unlock() // idempotent
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	waitFor(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.locks) == 0
	})
}
