package store

import (
	"context"
	"errors"
	"time"

	"csgo-quant/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// committedRuns 提交阶段已完成的 run id
func (s *Store) committedRuns(ctx context.Context) *gorm.DB {
	return s.conn(ctx).Model(&models.PipelineRun{}).
		Select("run_id").
		Where("stage = ? AND status = ?", StageCommit, models.RunCommitted)
}

// servedSignals 每个 (item, as_of) 取已提交运行写入的最新一行的 id。
// 未提交的重跑不会替换已提交的行
func (s *Store) servedSignals(ctx context.Context) *gorm.DB {
	return s.conn(ctx).Model(&models.Signal{}).
		Select("MAX(id)").
		Where("run_id IN (?)", s.committedRuns(ctx)).
		Group("item_name, as_of")
}

// SaveSignals 按 (item, as_of, run_id) upsert，运行提交前对读者不可见
func (s *Store) SaveSignals(ctx context.Context, sigs []models.Signal) error {
	if len(sigs) == 0 {
		return nil
	}
	for i := range sigs {
		sigs[i].AsOf = models.DayOf(sigs[i].AsOf)
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_name"}, {Name: "as_of"}, {Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price", "sell_score", "opportunity_score", "sell_dims", "opportunity_dims",
			"indicators", "unavailable", "alerts", "price_stale", "updated_at",
		}),
	}).CreateInBatches(sigs, s.batchSize).Error
	return wrap("save signals", err)
}

// CurrentSignals 每个商品最新的已提交信号
func (s *Store) CurrentSignals(ctx context.Context) ([]models.Signal, error) {
	latest := s.conn(ctx).Model(&models.Signal{}).
		Select("item_name, MAX(as_of) AS as_of").
		Where("run_id IN (?)", s.committedRuns(ctx)).
		Group("item_name")

	var out []models.Signal
	err := s.conn(ctx).Select("signals.*").
		Joins("JOIN (?) AS latest ON latest.item_name = signals.item_name AND latest.as_of = signals.as_of", latest).
		Where("signals.id IN (?)", s.servedSignals(ctx)).
		Order("signals.sell_score DESC, signals.item_name").
		Find(&out).Error
	return out, wrap("current signals", err)
}

// LatestSignal 商品最新的已提交信号
func (s *Store) LatestSignal(ctx context.Context, item string) (*models.Signal, error) {
	var sig models.Signal
	err := s.conn(ctx).
		Where("item_name = ? AND id IN (?)", item, s.servedSignals(ctx)).
		Order("as_of DESC").First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("latest signal", err)
	}
	return &sig, nil
}

// SignalHistory 商品在 [from, to] 内的已提交信号，每天一条，按时间升序
func (s *Store) SignalHistory(ctx context.Context, item string, from, to time.Time) ([]models.Signal, error) {
	var out []models.Signal
	err := s.conn(ctx).
		Where("item_name = ? AND as_of >= ? AND as_of <= ? AND id IN (?)",
			item, models.DayOf(from), models.DayOf(to), s.servedSignals(ctx)).
		Order("as_of").Find(&out).Error
	return out, wrap("signal history", err)
}

// RunSignals runID 写入的信号，不论是否已提交
func (s *Store) RunSignals(ctx context.Context, runID string) ([]models.Signal, error) {
	var out []models.Signal
	err := s.conn(ctx).Where("run_id = ?", runID).Order("item_name").Find(&out).Error
	return out, wrap("run signals", err)
}

// SaveAlerts 写入告警，(item, kind, day) 重复的忽略，只返回新写入的
func (s *Store) SaveAlerts(ctx context.Context, alerts []models.Alert) ([]models.Alert, error) {
	var fresh []models.Alert
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range alerts {
			a := alerts[i]
			a.Day = models.DayOf(a.Day)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&a)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				fresh = append(fresh, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("save alerts", err)
	}
	return fresh, nil
}

// AlertFilter ListAlerts 的筛选条件
type AlertFilter struct {
	UnreadOnly bool
	ItemName   string
	Since      time.Time
	Limit      int
}

func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	q := s.conn(ctx).Model(&models.Alert{})
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if f.ItemName != "" {
		q = q.Where("item_name = ?", f.ItemName)
	}
	if !f.Since.IsZero() {
		q = q.Where("day >= ?", models.DayOf(f.Since))
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	var out []models.Alert
	err := q.Order("day DESC, id DESC").Limit(f.Limit).Find(&out).Error
	return out, wrap("list alerts", err)
}

// MarkAlertRead 标记告警已读
func (s *Store) MarkAlertRead(ctx context.Context, id uint) error {
	res := s.conn(ctx).Model(&models.Alert{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return wrap("mark alert read", res.Error)
	}
	if res.RowsAffected == 0 {
		// 已读的告警在 mysql 下影响行数为 0
		var n int64
		if err := s.conn(ctx).Model(&models.Alert{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return wrap("mark alert read", err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// MarkAllAlertsRead 全部未读告警标记已读，返回更新条数
func (s *Store) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	res := s.conn(ctx).Model(&models.Alert{}).Where("is_read = ?", false).Update("is_read", true)
	return res.RowsAffected, wrap("mark all alerts read", res.Error)
}

// AppendSnapshot 写入持仓快照，快照不会被修改
func (s *Store) AppendSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	snap.ID = 0
	snap.TakenAt = snap.TakenAt.UTC()
	return wrap("append snapshot", s.conn(ctx).Create(snap).Error)
}

// Snapshots since 之后最多 limit 条快照，新的在前
func (s *Store) Snapshots(ctx context.Context, since time.Time, limit int) ([]models.PortfolioSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.conn(ctx).Model(&models.PortfolioSnapshot{})
	if !since.IsZero() {
		q = q.Where("taken_at >= ?", since.UTC())
	}
	var out []models.PortfolioSnapshot
	err := q.Order("taken_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, wrap("snapshots", err)
}
