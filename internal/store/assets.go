package store

import (
	"context"
	"errors"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/models"

	"gorm.io/gorm"
)

var _ ledger.Repository = (*Store)(nil)

func (s *Store) GetAsset(ctx context.Context, instanceID string) (*models.Asset, error) {
	var a models.Asset
	err := s.conn(ctx).Where("instance_id = ?", instanceID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrAssetNotFound
	}
	if err != nil {
		return nil, wrap("get asset", err)
	}
	return &a, nil
}

func (s *Store) CreateAsset(ctx context.Context, a *models.Asset) error {
	return wrap("create asset", s.conn(ctx).Create(a).Error)
}

func (s *Store) SaveAsset(ctx context.Context, a *models.Asset) error {
	if a.ID == 0 {
		existing, err := s.GetAsset(ctx, a.InstanceID)
		if err != nil {
			return err
		}
		a.ID = existing.ID
	}
	return wrap("save asset", s.conn(ctx).Save(a).Error)
}

func (s *Store) AssetsByItem(ctx context.Context, itemName string) ([]models.Asset, error) {
	var out []models.Asset
	err := s.conn(ctx).Where("item_name = ?", itemName).Order("acquired_at").Find(&out).Error
	return out, wrap("assets by item", err)
}

// AssetFilter ListAssets 的筛选条件
type AssetFilter struct {
	States      []models.AssetState
	ItemName    string
	NeedsReview *bool
	MissingCost bool
}

// ListAssets 按筛选条件列出资产，入库早的在前
func (s *Store) ListAssets(ctx context.Context, f AssetFilter) ([]models.Asset, error) {
	q := s.conn(ctx).Model(&models.Asset{})
	if len(f.States) > 0 {
		q = q.Where("state IN ?", f.States)
	}
	if f.ItemName != "" {
		q = q.Where("item_name = ?", f.ItemName)
	}
	if f.NeedsReview != nil {
		q = q.Where("needs_review = ?", *f.NeedsReview)
	}
	if f.MissingCost {
		q = q.Where("cost IS NULL")
	}
	var out []models.Asset
	err := q.Order("acquired_at, id").Find(&out).Error
	return out, wrap("list assets", err)
}

// HeldAssets 所有未售出的资产
func (s *Store) HeldAssets(ctx context.Context) ([]models.Asset, error) {
	return s.ListAssets(ctx, AssetFilter{States: []models.AssetState{models.StateInSteam, models.StateRentedOut}})
}

// HeldItemNames 至少有一件未售出资产的商品名，去重
func (s *Store) HeldItemNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.conn(ctx).Model(&models.Asset{}).
		Where("state <> ?", models.StateSold).
		Distinct().Order("item_name").Pluck("item_name", &names).Error
	return names, wrap("held item names", err)
}

func (s *Store) GetLease(ctx context.Context, orderID string) (*models.LeaseRecord, error) {
	var l models.LeaseRecord
	err := s.conn(ctx).Where("order_id = ?", orderID).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrLeaseNotFound
	}
	if err != nil {
		return nil, wrap("get lease", err)
	}
	return &l, nil
}

// SaveLease 按订单号 upsert
func (s *Store) SaveLease(ctx context.Context, l *models.LeaseRecord) error {
	if l.ID == 0 {
		var existing models.LeaseRecord
		err := s.conn(ctx).Select("id").Where("order_id = ?", l.OrderID).First(&existing).Error
		switch {
		case err == nil:
			l.ID = existing.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return wrap("save lease", err)
		}
	}
	if l.ID == 0 {
		return wrap("create lease", s.conn(ctx).Create(l).Error)
	}
	return wrap("save lease", s.conn(ctx).Save(l).Error)
}

// UnresolvedLeases 无法对应到单个资产的租赁记录
func (s *Store) UnresolvedLeases(ctx context.Context) ([]models.LeaseRecord, error) {
	var out []models.LeaseRecord
	err := s.conn(ctx).Where("unresolved = ?", true).Order("bought_at").Find(&out).Error
	return out, wrap("unresolved leases", err)
}

// UpsertItem 插入商品，已存在时只补齐空的元数据字段
func (s *Store) UpsertItem(ctx context.Context, item models.Item) (*models.Item, error) {
	var cur models.Item
	err := s.conn(ctx).Where("name = ?", item.Name).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.conn(ctx).Create(&item).Error; err != nil {
			return nil, wrap("create item", err)
		}
		return &item, nil
	}
	if err != nil {
		return nil, wrap("get item", err)
	}
	if cur.Enrich(item) {
		if err := s.conn(ctx).Save(&cur).Error; err != nil {
			return nil, wrap("enrich item", err)
		}
	}
	return &cur, nil
}

func (s *Store) GetItem(ctx context.Context, name string) (*models.Item, error) {
	var it models.Item
	err := s.conn(ctx).Where("name = ?", name).First(&it).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get item", err)
	}
	return &it, nil
}

// ItemCategories 返回商品名到类别的映射，库里没有或类别为空的按名称分类
func (s *Store) ItemCategories(ctx context.Context, names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out, nil
	}
	var rows []models.Item
	if err := s.conn(ctx).Select("name", "category").Where("name IN ?", names).Find(&rows).Error; err != nil {
		return nil, wrap("item categories", err)
	}
	for _, r := range rows {
		if r.Category != "" {
			out[r.Name] = r.Category
		}
	}
	for _, n := range names {
		if _, ok := out[n]; !ok {
			out[n] = models.Classify(n)
		}
	}
	return out, nil
}

// TrackedItems 持有商品与设置了手动价格的商品的并集
func (s *Store) TrackedItems(ctx context.Context) ([]string, error) {
	held, err := s.HeldItemNames(ctx)
	if err != nil {
		return nil, err
	}
	var manual []string
	if err := s.conn(ctx).Model(&models.ManualPrice{}).Pluck("item_name", &manual).Error; err != nil {
		return nil, wrap("manual items", err)
	}
	seen := make(map[string]bool, len(held))
	for _, n := range held {
		seen[n] = true
	}
	for _, n := range manual {
		if !seen[n] {
			seen[n] = true
			held = append(held, n)
		}
	}
	return held, nil
}
