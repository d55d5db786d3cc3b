package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"csgo-quant/internal/models"

	"github.com/shopspring/decimal"
)

var errMalformedEvent = errors.New("malformed event")

type EventKind string

const (
	EventPossession EventKind = "possession"
	EventLease      EventKind = "lease"
	EventSale       EventKind = "sale"
	EventAcquire    EventKind = "acquire"
)

// Event 导入器拉取到的一条变动
type Event struct {
	Kind     EventKind
	AssetID  string
	ItemName string
	Marker   string              // 持有位置
	Lease    *models.LeaseRecord // 租约
	Price    decimal.Decimal     // 售价或购入成本
	At       time.Time
}

// Importer 拉取某时间点之后的持有、租赁和出售事件
type Importer interface {
	Name() string
	PullEvents(ctx context.Context, since time.Time) ([]Event, error)
}

// ApplyResult 一批事件的处理结果
type ApplyResult struct {
	Applied    int
	Unresolved []*UnresolvedLeaseImport
	Failed     int
}

// Apply 分发单个事件。没有资产 id 的租赁事件走 ImportLease 匹配
func (l *Ledger) Apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventAcquire:
		a := &models.Asset{InstanceID: ev.AssetID, ItemName: ev.ItemName, AcquiredAt: ev.At, StorageMarker: ev.Marker}
		if !ev.Price.IsZero() {
			a.Cost = decimal.NewNullDecimal(ev.Price)
		}
		err := l.RegisterAsset(ctx, a)
		if errors.Is(err, ErrAssetAlreadyExists) {
			if ev.Price.IsZero() {
				return nil
			}
			err = l.SetCost(ctx, ev.AssetID, ev.Price)
			if errors.Is(err, ErrCostImmutable) {
				l.logger.Warn("acquisition cost differs from recorded basis", "asset", ev.AssetID, "price", ev.Price)
				return nil
			}
		}
		return err
	case EventPossession:
		return l.RecordPossessionEvent(ctx, ev.AssetID, ev.Marker, ev.At)
	case EventLease:
		if ev.Lease == nil {
			return fmt.Errorf("%w: lease event for %s without record", errMalformedEvent, ev.AssetID)
		}
		if ev.AssetID != "" {
			return l.RecordLeaseEvent(ctx, ev.AssetID, ev.Lease, ev.At)
		}
		_, err := l.ImportLease(ctx, ev.Lease, ev.At)
		return err
	case EventSale:
		return l.RecordSale(ctx, ev.AssetID, ev.Price, ev.At)
	}
	return fmt.Errorf("%w: unknown event kind %q", errMalformedEvent, ev.Kind)
}

// ApplyAll 按时间顺序处理事件。无法匹配的租赁导入被收集，单条记录错误只记日志并计数，
// 存储错误或取消会中止整批并返回
func (l *Ledger) ApplyAll(ctx context.Context, events []Event) (ApplyResult, error) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	var res ApplyResult
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := l.Apply(ctx, ev)
		var unresolved *UnresolvedLeaseImport
		switch {
		case err == nil:
			res.Applied++
		case errors.As(err, &unresolved):
			res.Unresolved = append(res.Unresolved, unresolved)
		case isRecordError(err):
			res.Failed++
			l.logger.Error("apply event failed", "kind", ev.Kind, "asset", ev.AssetID, "error", err)
		default:
			return res, err
		}
	}
	return res, nil
}

func isRecordError(err error) bool {
	return errors.Is(err, ErrAssetNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrCostImmutable) ||
		errors.Is(err, ErrNegativeCost) ||
		errors.Is(err, errMalformedEvent)
}
