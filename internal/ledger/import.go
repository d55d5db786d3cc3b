package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"csgo-quant/internal/models"

	"github.com/shopspring/decimal"
)

// UnresolvedLeaseImport 无法对应到资产、需要人工核对的租赁记录
type UnresolvedLeaseImport struct {
	OrderID    string
	ItemName   string
	Reason     string
	Candidates []string
}

func (e *UnresolvedLeaseImport) Error() string {
	if len(e.Candidates) > 0 {
		return fmt.Sprintf("unresolved lease import %s (%s): %s [%s]", e.OrderID, e.ItemName, e.Reason, strings.Join(e.Candidates, ","))
	}
	return fmt.Sprintf("unresolved lease import %s (%s): %s", e.OrderID, e.ItemName, e.Reason)
}

// MatchLease 为租赁记录找到对应的资产。容差内没有资产时返回 nil，
// 多个资产同样匹配时返回 *UnresolvedLeaseImport。
// 没有成本的资产不参与价格匹配；时间窗口内只有这类资产时记录为未解决，不做猜测
func MatchLease(assets []models.Asset, rec *models.LeaseRecord, cfg MatchConfig, now time.Time) (*models.Asset, error) {
	if strings.TrimSpace(rec.ItemName) == "" {
		return nil, &UnresolvedLeaseImport{OrderID: rec.OrderID, Reason: "missing item identity"}
	}

	var hits, unpriced []*models.Asset
	for i := range assets {
		a := &assets[i]
		if a.ItemName != rec.ItemName || a.State == models.StateSold {
			continue
		}
		if a.HasActiveLease(now) && a.LeaseRef != rec.OrderID {
			continue
		}
		if !rec.BoughtAt.IsZero() && !a.AcquiredAt.IsZero() && absDuration(a.AcquiredAt.Sub(rec.BoughtAt)) > cfg.TimeWindow {
			continue
		}
		if !a.Cost.Valid || rec.BuyPrice.IsZero() {
			unpriced = append(unpriced, a)
			continue
		}
		if withinBand(a.Cost.Decimal, rec.BuyPrice, cfg.PriceBand) {
			hits = append(hits, a)
		}
	}

	switch {
	case len(hits) == 1:
		return hits[0], nil
	case len(hits) > 1:
		return nil, newUnresolved(rec, "ambiguous match", hits)
	case len(unpriced) > 0:
		return nil, newUnresolved(rec, "cost unknown", unpriced)
	}
	return nil, nil
}

func newUnresolved(rec *models.LeaseRecord, reason string, candidates []*models.Asset) *UnresolvedLeaseImport {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.InstanceID)
	}
	return &UnresolvedLeaseImport{
		OrderID:    rec.OrderID,
		ItemName:   rec.ItemName,
		Reason:     reason,
		Candidates: ids,
	}
}

func withinBand(cost, price decimal.Decimal, band float64) bool {
	diff := cost.Sub(price).Abs()
	limit := price.Abs().Mul(decimal.NewFromFloat(band))
	return diff.LessThanOrEqual(limit)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ImportLease 将导入的租赁记录关联到资产。已关联的记录重新应用到同一资产；
// 没有匹配时新建 rented_out 资产；有歧义或候选资产都缺成本的记录
// 保存为未解决并返回 *UnresolvedLeaseImport
func (l *Ledger) ImportLease(ctx context.Context, rec *models.LeaseRecord, now time.Time) (*models.Asset, error) {
	if prev, err := l.repo.GetLease(ctx, rec.OrderID); err == nil && prev.AssetRef != "" {
		rec.ID = prev.ID
		rec.AssetRef = prev.AssetRef
	} else if err != nil && !errors.Is(err, ErrLeaseNotFound) {
		return nil, err
	}

	if rec.AssetRef != "" {
		a, err := l.repo.GetAsset(ctx, rec.AssetRef)
		if err == nil {
			return a, l.applyLease(ctx, a, rec, now)
		}
		if !errors.Is(err, ErrAssetNotFound) {
			return nil, err
		}
	}

	var assets []models.Asset
	if rec.ItemName != "" {
		var err error
		if assets, err = l.repo.AssetsByItem(ctx, rec.ItemName); err != nil {
			return nil, err
		}
	}

	match, err := MatchLease(assets, rec, l.match, now)
	var unresolved *UnresolvedLeaseImport
	if errors.As(err, &unresolved) {
		rec.Unresolved = true
		rec.AssetRef = ""
		if serr := l.repo.SaveLease(ctx, rec); serr != nil {
			return nil, serr
		}
		l.logger.Warn("lease import unresolved", "order", rec.OrderID, "item", rec.ItemName, "reason", unresolved.Reason, "candidates", unresolved.Candidates)
		return nil, unresolved
	}
	if err != nil {
		return nil, err
	}

	if match != nil {
		return match, l.applyLease(ctx, match, rec, now)
	}

	end := rec.EndAt
	created := &models.Asset{
		InstanceID:    "lease-" + rec.OrderID,
		ItemName:      rec.ItemName,
		AcquiredAt:    rec.BoughtAt,
		State:         models.StateRentedOut,
		StorageMarker: models.MarkerAbsent,
		LeaseRef:      rec.OrderID,
		LeaseEndsAt:   &end,
	}
	if !rec.BuyPrice.IsZero() {
		created.Cost = decimal.NewNullDecimal(rec.BuyPrice)
	}
	if created.AcquiredAt.IsZero() {
		created.AcquiredAt = rec.StartAt
	}
	if err := l.repo.CreateAsset(ctx, created); err != nil {
		return nil, err
	}
	rec.AssetRef = created.InstanceID
	rec.Unresolved = false
	if err := l.repo.SaveLease(ctx, rec); err != nil {
		return nil, err
	}
	l.logger.Info("lease import created asset", "order", rec.OrderID, "asset", created.InstanceID, "item", rec.ItemName)
	return created, nil
}
