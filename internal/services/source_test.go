package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"csgo-quant/internal/logger"
	"csgo-quant/internal/metrics"
	"csgo-quant/internal/pricing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	name  string
	delay time.Duration
	err   error
	price float64
	// deaf sources sleep through cancellation
	deaf bool
}

func (f *fakeSource) Name() string        { return f.name }
func (f *fakeSource) Platforms() []string { return []string{f.name} }

func (f *fakeSource) FetchPrices(ctx context.Context, items []string) ([]pricing.Observation, error) {
	if f.deaf {
		time.Sleep(f.delay)
	} else {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []pricing.Observation
	for _, it := range items {
		out = append(out, pricing.Observation{Item: it, Platform: f.name, Source: f.name, Price: f.price})
	}
	return out, nil
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	m := metrics.New()
	f := NewFetcher([]Source{
		&fakeSource{name: "fast", price: 10},
		&fakeSource{name: "slow", delay: time.Second, price: 11},
		&fakeSource{name: "broken", err: errors.New("boom")},
	}, 50*time.Millisecond, m, logger.Discard())

	start := time.Now()
	batches := f.FetchAll(context.Background(), []string{"a", "b"})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("fetch waited for the slow source")
	}
	if len(batches) != 3 {
		t.Fatalf("batches = %d", len(batches))
	}
	if batches[0].Err != nil || len(batches[0].Observations) != 2 {
		t.Fatalf("fast batch = %+v", batches[0])
	}
	for _, b := range batches[1:] {
		if !errors.Is(b.Err, ErrSourceUnavailable) || b.Observations != nil {
			t.Fatalf("%s batch = %+v", b.Source, b)
		}
		if len(b.Platforms) != 1 || b.Platforms[0] != b.Source {
			t.Fatalf("platforms = %v", b.Platforms)
		}
	}
	if got := testutil.ToFloat64(m.SourceErrors.WithLabelValues("slow")); got != 1 {
		t.Fatalf("slow errors = %v", got)
	}
	if got := testutil.ToFloat64(m.SourceObservations.WithLabelValues("fast")); got != 2 {
		t.Fatalf("fast observations = %v", got)
	}
}

func TestFetchAllAbandonsSourceIgnoringTimeout(t *testing.T) {
	m := metrics.New()
	f := NewFetcher([]Source{
		&fakeSource{name: "fast", price: 10},
		&fakeSource{name: "deaf", delay: 2 * time.Second, price: 11, deaf: true},
	}, 100*time.Millisecond, m, logger.Discard())

	start := time.Now()
	batches := f.FetchAll(context.Background(), []string{"a"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("FetchAll took %v with a 100ms source timeout", elapsed)
	}
	if batches[0].Err != nil || len(batches[0].Observations) != 1 {
		t.Fatalf("fast batch = %+v", batches[0])
	}
	if !errors.Is(batches[1].Err, ErrSourceUnavailable) || !errors.Is(batches[1].Err, context.DeadlineExceeded) {
		t.Fatalf("deaf batch err = %v", batches[1].Err)
	}
	if batches[1].Observations != nil {
		t.Fatalf("deaf batch kept observations: %+v", batches[1].Observations)
	}
	if got := testutil.ToFloat64(m.SourceErrors.WithLabelValues("deaf")); got != 1 {
		t.Fatalf("deaf errors = %v", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]string{"a", "b", "c", "d", "e"}, 2)
	if len(got) != 3 || len(got[2]) != 1 || got[2][0] != "e" {
		t.Fatalf("chunks = %v", got)
	}
	if Chunk(nil, 10) != nil {
		t.Fatalf("empty input should give no chunks")
	}
}
