package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"csgo-quant/internal/metrics"
	"csgo-quant/internal/pricing"
)

// ErrSourceUnavailable 数据源不可用（网络错误、超时、接口返回失败）
var ErrSourceUnavailable = errors.New("source unavailable")

// Unavailable 包装数据源错误
func Unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, source, err)
}

// Source 价格数据源
type Source interface {
	Name() string
	// Platforms 该数据源覆盖的平台，失败时这些平台整体标记为过期
	Platforms() []string
	FetchPrices(ctx context.Context, items []string) ([]pricing.Observation, error)
}

// Fetcher 并发拉取所有数据源
type Fetcher struct {
	sources []Source
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFetcher 创建拉取器，timeout 为单个数据源的超时
func NewFetcher(sources []Source, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{sources: sources, timeout: timeout, metrics: m, logger: logger.With("component", "fetcher")}
}

// Sources 返回已注册的数据源
func (f *Fetcher) Sources() []Source {
	return f.sources
}

// FetchAll 每个数据源在独立的超时内并行拉取，全部返回或超时后合并。
// 单个数据源失败只影响它自己的批次。
func (f *Fetcher) FetchAll(ctx context.Context, items []string) []pricing.Batch {
	batches := make([]pricing.Batch, len(f.sources))
	var wg sync.WaitGroup
	for i, src := range f.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			batches[i] = f.fetchOne(ctx, src, items)
		}(i, src)
	}
	wg.Wait()
	return batches
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source, items []string) pricing.Batch {
	sctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		obs []pricing.Observation
		err error
	}
	// 不响应 ctx 的数据源在超时后被放弃，结果丢进带缓冲的通道，goroutine 自行退出
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		obs, err := src.FetchPrices(sctx, items)
		done <- result{obs, err}
	}()
	var obs []pricing.Observation
	var err error
	select {
	case r := <-done:
		obs, err = r.obs, r.err
	case <-sctx.Done():
		err = sctx.Err()
	}
	elapsed := time.Since(start)

	b := pricing.Batch{Source: src.Name(), Platforms: src.Platforms(), Observations: obs}
	if err == nil && sctx.Err() != nil {
		err = sctx.Err()
	}
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			err = Unavailable(src.Name(), err)
		}
		b.Err = err
		b.Observations = nil
		f.logger.Warn("source fetch failed", "source", src.Name(), "elapsed", elapsed, "error", err)
	} else {
		f.logger.Info("source fetched", "source", src.Name(), "observations", len(obs), "elapsed", elapsed)
	}

	if f.metrics != nil {
		f.metrics.SourceFetchDur.WithLabelValues(src.Name()).Observe(elapsed.Seconds())
		if err != nil {
			f.metrics.SourceErrors.WithLabelValues(src.Name()).Inc()
		} else {
			f.metrics.SourceObservations.WithLabelValues(src.Name()).Add(float64(len(obs)))
		}
	}
	return b
}

// Chunk 将 items 按 size 切分
func Chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}
	var out [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
