// Package store 基于 gorm 的持久化层。实现 ledger 与 bars 的存储接口，
// 并负责报价、规范价格、信号、告警、快照以及流水线阶段记录
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

var (
	// ErrPersistence 包装 store 返回的所有数据库错误
	ErrPersistence = errors.New("persistence failure")
	ErrNotFound    = errors.New("record not found")
)

type Store struct {
	db        *gorm.DB
	batchSize int
	logger    *slog.Logger
}

func New(db *gorm.DB, batchSize int, logger *slog.Logger) *Store {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, batchSize: batchSize, logger: logger.With("component", "store")}
}

// DB 暴露底层连接，用于健康检查
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库连通性
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("ping", err)
	}
	return wrap("ping", sqlDB.PingContext(ctx))
}

// Tx 在事务中执行 fn，传入绑定该事务的 Store
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Store{db: db, batchSize: s.batchSize, logger: s.logger})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
