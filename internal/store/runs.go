package store

import (
	"context"
	"errors"
	"time"

	"csgo-quant/internal/models"

	"gorm.io/gorm"
)

// StageCommit 运行的最后一个阶段，提交后该运行的信号才对外可见
const StageCommit = "commit"

// OpenRun 返回 (job, day) 要使用的运行。未完成的运行连同已提交的阶段一起续跑，
// 否则由 newID 生成新的 run id。finished 表示最近一次运行已经提交
func (s *Store) OpenRun(ctx context.Context, job string, day time.Time, newID func() string) (runID string, done map[string]bool, finished bool, err error) {
	day = models.DayOf(day)
	var last models.PipelineRun
	err = s.conn(ctx).Where("job = ? AND day = ?", job, day).Order("started_at DESC, id DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newID(), map[string]bool{}, false, nil
	}
	if err != nil {
		return "", nil, false, wrap("open run", err)
	}

	var stages []string
	err = s.conn(ctx).Model(&models.PipelineRun{}).
		Where("run_id = ? AND status = ?", last.RunID, models.RunCommitted).
		Pluck("stage", &stages).Error
	if err != nil {
		return "", nil, false, wrap("open run", err)
	}
	done = make(map[string]bool, len(stages))
	for _, st := range stages {
		done[st] = true
	}
	return last.RunID, done, done[StageCommit], nil
}

// BeginStage 记录进行中的阶段
func (s *Store) BeginStage(ctx context.Context, runID, job string, day time.Time, stage string) (*models.PipelineRun, error) {
	r := &models.PipelineRun{
		RunID:     runID,
		Job:       job,
		Day:       models.DayOf(day),
		Stage:     stage,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.conn(ctx).Create(r).Error; err != nil {
		return nil, wrap("begin stage", err)
	}
	return r, nil
}

// FinishStage 标记阶段已提交，stageErr 非空时标记失败
func (s *Store) FinishStage(ctx context.Context, r *models.PipelineRun, stageErr error) error {
	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = models.RunCommitted
	if stageErr != nil {
		r.Status = models.RunFailed
		r.Error = stageErr.Error()
	}
	return wrap("finish stage", s.conn(ctx).Save(r).Error)
}

// RecentRuns 最近的阶段记录
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.PipelineRun
	err := s.conn(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, wrap("recent runs", err)
}
