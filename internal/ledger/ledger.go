// Package ledger 记录持有资产的生命周期状态与成本。
//
// 状态只向前推进：in_steam → rented_out → sold，或 in_steam → sold。
// RevertLease 是唯一的人工回退路径。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"csgo-quant/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrAssetNotFound      = errors.New("asset not found")
	ErrLeaseNotFound      = errors.New("lease not found")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrCostImmutable      = errors.New("cost basis already set")
	ErrNegativeCost       = errors.New("cost basis must not be negative")
	ErrAssetAlreadyExists = errors.New("asset already exists")
)

// Repository 资产与租赁记录的存储
type Repository interface {
	GetAsset(ctx context.Context, instanceID string) (*models.Asset, error)
	CreateAsset(ctx context.Context, a *models.Asset) error
	SaveAsset(ctx context.Context, a *models.Asset) error
	AssetsByItem(ctx context.Context, itemName string) ([]models.Asset, error)
	GetLease(ctx context.Context, orderID string) (*models.LeaseRecord, error)
	SaveLease(ctx context.Context, l *models.LeaseRecord) error
}

var transitions = map[models.AssetState][]models.AssetState{
	models.StateInSteam:   {models.StateRentedOut, models.StateSold},
	models.StateRentedOut: {models.StateSold},
}

// CanTransition from → to 是否为正常的生命周期转换
func CanTransition(from, to models.AssetState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MatchConfig 租赁导入匹配的容差
type MatchConfig struct {
	PriceBand  float64       // 购入成本的相对容差
	TimeWindow time.Duration // 入库时间与租赁记录购入时间的最大间隔
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{PriceBand: 0.05, TimeWindow: 72 * time.Hour}
}

type Ledger struct {
	repo   Repository
	match  MatchConfig
	logger *slog.Logger
}

func New(repo Repository, match MatchConfig, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, match: match, logger: logger.With("component", "ledger")}
}

func (l *Ledger) transition(a *models.Asset, to models.AssetState, ts time.Time) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, a.InstanceID, a.State, to)
	}
	l.logger.Info("asset state changed", "asset", a.InstanceID, "item", a.ItemName, "from", a.State, "to", to, "at", ts)
	a.State = to
	return nil
}

func flag(a *models.Asset, note string) {
	a.NeedsReview = true
	a.ReviewNote = note
}

// RegisterAsset 以 in_steam 状态登记新资产，重复登记返回 ErrAssetAlreadyExists
func (l *Ledger) RegisterAsset(ctx context.Context, a *models.Asset) error {
	if _, err := l.repo.GetAsset(ctx, a.InstanceID); err == nil {
		return ErrAssetAlreadyExists
	} else if !errors.Is(err, ErrAssetNotFound) {
		return err
	}
	if a.Cost.Valid && a.Cost.Decimal.IsNegative() {
		return ErrNegativeCost
	}
	a.State = models.StateInSteam
	if a.StorageMarker == "" {
		a.StorageMarker = models.MarkerSteam
	}
	return l.repo.CreateAsset(ctx, a)
}

// RecordPossessionEvent 处理一次库存观测。marker 为 "steam" 表示在库存中可见，
// 为储物柜 id 表示在储物柜里，为空表示不在库存中
func (l *Ledger) RecordPossessionEvent(ctx context.Context, assetID, marker string, ts time.Time) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.State == models.StateSold {
		return nil
	}

	prev := a.StorageMarker
	changed := prev != marker
	a.StorageMarker = marker

	switch {
	case marker == models.MarkerAbsent:
		if a.State != models.StateInSteam {
			break
		}
		if a.HasActiveLease(ts) {
			if err := l.transition(a, models.StateRentedOut, ts); err != nil {
				return err
			}
			changed = true
		} else if !a.NeedsReview {
			// 仅凭消失无法判断：可能已售出、已交易或租约尚未导入
			flag(a, "absent from inventory without an active lease")
			changed = true
		}
	case marker == models.MarkerSteam:
		if a.State == models.StateRentedOut && !a.HasActiveLease(ts) {
			if !a.NeedsReview {
				flag(a, "lease ended and asset is back in inventory; pending return")
				changed = true
			}
		} else if a.State == models.StateInSteam && a.NeedsReview {
			a.NeedsReview = false
			a.ReviewNote = ""
			changed = true
		}
	default:
		// 存入储物柜或在储物柜间移动，仍在 steam 中持有
		if a.State == models.StateInSteam && a.NeedsReview {
			a.NeedsReview = false
			a.ReviewNote = ""
		}
		if changed {
			l.logger.Debug("storage unit change", "asset", a.InstanceID, "from", prev, "to", marker)
		}
	}

	if !changed {
		return nil
	}
	return l.repo.SaveAsset(ctx, a)
}

// RecordLeaseEvent 将租赁记录应用到已知资产
func (l *Ledger) RecordLeaseEvent(ctx context.Context, assetID string, lease *models.LeaseRecord, ts time.Time) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	return l.applyLease(ctx, a, lease, ts)
}

func (l *Ledger) applyLease(ctx context.Context, a *models.Asset, lease *models.LeaseRecord, ts time.Time) error {
	lease.AssetRef = a.InstanceID
	lease.Unresolved = false
	if err := l.repo.SaveLease(ctx, lease); err != nil {
		return err
	}
	if a.State == models.StateSold {
		return nil
	}

	end := lease.EndAt
	switch {
	case lease.Active(ts):
		if a.State == models.StateInSteam {
			if err := l.transition(a, models.StateRentedOut, ts); err != nil {
				return err
			}
		}
		a.LeaseRef = lease.OrderID
		a.LeaseEndsAt = &end
		a.NeedsReview = false
		a.ReviewNote = ""
	case a.LeaseRef == lease.OrderID || a.LeaseRef == "":
		// 结束的租约只记录结束时间，归还以库存观测为准
		a.LeaseRef = lease.OrderID
		if lease.Status != "leasing" && end.After(ts) {
			end = ts
		}
		a.LeaseEndsAt = &end
	default:
		return nil
	}
	return l.repo.SaveAsset(ctx, a)
}

// RecordSale 先结束进行中的租约，再标记为已售出。重复出售不做任何事
func (l *Ledger) RecordSale(ctx context.Context, assetID string, price decimal.Decimal, ts time.Time) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.State == models.StateSold {
		return nil
	}

	if a.HasActiveLease(ts) {
		if lease, err := l.repo.GetLease(ctx, a.LeaseRef); err == nil {
			lease.Status = "returned"
			lease.EndAt = ts
			if err := l.repo.SaveLease(ctx, lease); err != nil {
				return fmt.Errorf("close lease %s: %w", a.LeaseRef, err)
			}
		} else if !errors.Is(err, ErrLeaseNotFound) {
			return err
		}
		closed := ts
		a.LeaseEndsAt = &closed
	}

	if err := l.transition(a, models.StateSold, ts); err != nil {
		return err
	}
	soldAt := ts
	a.SoldAt = &soldAt
	a.SoldPrice = decimal.NewNullDecimal(price)
	a.NeedsReview = false
	a.ReviewNote = ""
	return l.repo.SaveAsset(ctx, a)
}

// SetCost 只能设置一次成本，之后修改走 CorrectCost
func (l *Ledger) SetCost(ctx context.Context, assetID string, cost decimal.Decimal) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.Cost.Valid {
		if a.Cost.Decimal.Equal(cost) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrCostImmutable, assetID)
	}
	if cost.IsNegative() {
		return ErrNegativeCost
	}
	a.Cost = decimal.NewNullDecimal(cost)
	return l.repo.SaveAsset(ctx, a)
}

// CorrectCost 显式修正成本
func (l *Ledger) CorrectCost(ctx context.Context, assetID string, cost decimal.Decimal, reason string) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if cost.IsNegative() {
		return ErrNegativeCost
	}
	l.logger.Warn("cost basis corrected", "asset", assetID, "old", a.Cost, "new", cost, "reason", reason)
	a.Cost = decimal.NewNullDecimal(cost)
	a.CostCorrected = true
	return l.repo.SaveAsset(ctx, a)
}

// RevertLease 人工撤销错误的租赁记录：rented_out 回到 in_steam，并解除租约关联
func (l *Ledger) RevertLease(ctx context.Context, assetID, reason string) error {
	a, err := l.repo.GetAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if a.State != models.StateRentedOut {
		return fmt.Errorf("%w: revert from %s", ErrInvalidTransition, a.State)
	}
	if a.LeaseRef != "" {
		if lease, err := l.repo.GetLease(ctx, a.LeaseRef); err == nil {
			lease.Status = "reverted"
			if err := l.repo.SaveLease(ctx, lease); err != nil {
				return err
			}
		}
	}
	l.logger.Warn("lease reverted by override", "asset", assetID, "lease", a.LeaseRef, "reason", reason)
	a.State = models.StateInSteam
	a.LeaseRef = ""
	a.LeaseEndsAt = nil
	a.NeedsReview = false
	a.ReviewNote = ""
	return l.repo.SaveAsset(ctx, a)
}
