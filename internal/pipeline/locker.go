package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"csgo-quant/internal/store"
)

const lockRetry = 100 * time.Millisecond

// ItemLocker 按商品串行化定时更新与手动重算。进程内用互斥锁，
// 配置了 redis 时再加一层跨进程 SETNX 锁。
type ItemLocker struct {
	mu    sync.Mutex
	locks map[string]*itemLock
	cache *store.Cache
	ttl   time.Duration
}

type itemLock struct {
	ch   chan struct{}
	refs int
}

func NewItemLocker(cache *store.Cache, ttl time.Duration) *ItemLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ItemLocker{locks: make(map[string]*itemLock), cache: cache, ttl: ttl}
}

// Lock 阻塞直到获得 item 的锁或 ctx 结束
func (l *ItemLocker) Lock(ctx context.Context, item string) (func(), error) {
	l.mu.Lock()
	il, ok := l.locks[item]
	if !ok {
		il = &itemLock{ch: make(chan struct{}, 1)}
		l.locks[item] = il
	}
	il.refs++
	l.mu.Unlock()

	select {
	case il.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(item, il)
		return nil, ctx.Err()
	}

	unlockRemote, err := l.remote(ctx, item)
	if err != nil {
		<-il.ch
		l.release(item, il)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockRemote()
			<-il.ch
			l.release(item, il)
		})
	}, nil
}

func (l *ItemLocker) remote(ctx context.Context, item string) (func(), error) {
	for {
		unlock, err := l.cache.Lock(ctx, "item:"+item, l.ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, store.ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (l *ItemLocker) release(item string, il *itemLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	il.refs--
	if il.refs == 0 {
		delete(l.locks, item)
	}
}
