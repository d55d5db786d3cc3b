// Package steam 读取 Steam 库存，转换为账本的持有/入库事件
package steam

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/services"

	"github.com/go-resty/resty/v2"
)

const (
	sourceName = "steam"
	// 储物柜 classid 固定，instanceid 随内容变化
	StorageUnitClassID = "3604678661"
	pageSize           = 500
)

type SteamAsset struct {
	AppID      int    `json:"appid"`
	ContextID  string `json:"contextid"`
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
}

type SteamDescription struct {
	ClassID        string `json:"classid"`
	InstanceID     string `json:"instanceid"`
	MarketHashName string `json:"market_hash_name"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	IconURL        string `json:"icon_url"`
	Tradable       int    `json:"tradable"`
	Marketable     int    `json:"marketable"`
}

type inventoryResponse struct {
	Assets              []SteamAsset       `json:"assets"`
	Descriptions        []SteamDescription `json:"descriptions"`
	TotalInventoryCount int                `json:"total_inventory_count"`
	MoreItems           int                `json:"more_items"`
	LastAssetID         string             `json:"last_assetid"`
	Success             int                `json:"success"`
}

// InventoryItem 合并 asset 与 description 后的库存条目
type InventoryItem struct {
	AssetID        string
	ClassID        string
	InstanceID     string
	MarketHashName string
	Type           string
	IconURL        string
	Tradable       bool
}

// IsStorageUnit 是否为储物柜本身
func (i InventoryItem) IsStorageUnit() bool {
	return i.ClassID == StorageUnitClassID
}

// Repository 读取持有资产并补全饰品元数据
type Repository interface {
	HeldAssets(ctx context.Context) ([]models.Asset, error)
	UpsertItem(ctx context.Context, item models.Item) (*models.Item, error)
}

// SteamService 库存读取与事件生成
type SteamService struct {
	steamID  string
	client   *resty.Client
	repo     Repository
	logger   *slog.Logger
	pageWait time.Duration
	now      func() time.Time

	mu    sync.Mutex
	units map[string]string // 储物柜 assetid → 上次 instanceid
}

// NewSteamService 创建库存服务，baseURL 默认 https://steamcommunity.com
func NewSteamService(baseURL, steamID string, repo Repository, logger *slog.Logger) *SteamService {
	if baseURL == "" {
		baseURL = "https://steamcommunity.com"
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Accept-Language", "en-US,en;q=0.9")

	if logger == nil {
		logger = slog.Default()
	}
	return &SteamService{
		steamID:  steamID,
		client:   client,
		repo:     repo,
		logger:   logger.With("component", "steam"),
		pageWait: 1200 * time.Millisecond,
		now:      time.Now,
		units:    make(map[string]string),
	}
}

func (s *SteamService) Name() string {
	return sourceName
}

// GetUserInventory 分页拉取 CS2 顶层库存（不含储物柜内部物品）
func (s *SteamService) GetUserInventory(ctx context.Context) ([]InventoryItem, error) {
	descMap := make(map[string]SteamDescription)
	var assets []SteamAsset
	cursor := ""

	for {
		var inv inventoryResponse
		req := s.client.R().
			SetContext(ctx).
			SetQueryParam("l", "english").
			SetQueryParam("count", fmt.Sprint(pageSize)).
			SetResult(&inv)
		if cursor != "" {
			req.SetQueryParam("start_assetid", cursor)
		}
		resp, err := req.Get("/inventory/" + s.steamID + "/730/2")
		if err != nil {
			return nil, services.Unavailable(sourceName, err)
		}
		switch resp.StatusCode() {
		case http.StatusOK:
		case http.StatusForbidden:
			return nil, services.Unavailable(sourceName, fmt.Errorf("inventory is private"))
		case http.StatusTooManyRequests:
			return nil, services.Unavailable(sourceName, fmt.Errorf("rate limited"))
		default:
			return nil, services.Unavailable(sourceName, fmt.Errorf("HTTP %d", resp.StatusCode()))
		}
		if inv.Success != 1 {
			return nil, services.Unavailable(sourceName, fmt.Errorf("failed to get inventory"))
		}

		assets = append(assets, inv.Assets...)
		for _, desc := range inv.Descriptions {
			descMap[desc.ClassID+"_"+desc.InstanceID] = desc
		}
		if inv.MoreItems == 0 || inv.LastAssetID == "" {
			break
		}
		cursor = inv.LastAssetID
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}

	// Merge assets with descriptions
	items := make([]InventoryItem, 0, len(assets))
	for _, a := range assets {
		desc, ok := descMap[a.ClassID+"_"+a.InstanceID]
		if !ok {
			continue
		}
		items = append(items, InventoryItem{
			AssetID:        a.AssetID,
			ClassID:        a.ClassID,
			InstanceID:     a.InstanceID,
			MarketHashName: desc.MarketHashName,
			Type:           desc.Type,
			IconURL:        desc.IconURL,
			Tradable:       desc.Tradable == 1,
		})
	}
	return items, nil
}

func (s *SteamService) wait(ctx context.Context) error {
	if s.pageWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.pageWait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PullEvents 对比当前库存与账本持有资产生成事件。库存是快照，since 不参与过滤。
//   - 新出现的资产 → acquire
//   - 已知资产可见 → possession "steam"
//   - 已知资产消失，且本次有储物柜内容变化 → possession 储物柜 id
//   - 已知资产消失，储物柜无变化 → possession ""（由账本结合租赁判断）
func (s *SteamService) PullEvents(ctx context.Context, since time.Time) ([]ledger.Event, error) {
	inv, err := s.GetUserInventory(ctx)
	if err != nil {
		return nil, err
	}
	held, err := s.repo.HeldAssets(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	known := make(map[string]bool, len(held))
	for _, a := range held {
		known[a.InstanceID] = true
	}

	visible := make(map[string]bool, len(inv))
	var units []InventoryItem
	var events []ledger.Event
	for _, it := range inv {
		if it.IsStorageUnit() {
			units = append(units, it)
			continue
		}
		visible[it.AssetID] = true
		if known[it.AssetID] {
			events = append(events, ledger.Event{Kind: ledger.EventPossession, AssetID: it.AssetID, Marker: models.MarkerSteam, At: now})
			continue
		}
		events = append(events, ledger.Event{
			Kind:     ledger.EventAcquire,
			AssetID:  it.AssetID,
			ItemName: it.MarketHashName,
			Marker:   models.MarkerSteam,
			At:       now,
		})
	}

	changedUnit := s.changedStorageUnit(units)
	for _, a := range held {
		if visible[a.InstanceID] || strings.HasPrefix(a.InstanceID, "lease-") {
			continue
		}
		marker := models.MarkerAbsent
		if changedUnit != "" {
			marker = changedUnit
		} else if a.StorageMarker != models.MarkerSteam && a.StorageMarker != models.MarkerAbsent {
			// 已在储物柜中，保持原标记
			marker = a.StorageMarker
		}
		events = append(events, ledger.Event{Kind: ledger.EventPossession, AssetID: a.InstanceID, Marker: marker, At: now})
	}

	for _, item := range Metadata(inv) {
		if _, err := s.repo.UpsertItem(ctx, item); err != nil {
			return nil, err
		}
	}

	s.logger.Info("inventory pulled", "visible", len(visible), "storage_units", len(units), "held", len(held), "events", len(events), "storage_changed", changedUnit != "")
	return events, nil
}

// changedStorageUnit 记录储物柜 instanceid，返回本次内容发生变化的储物柜 assetid。
// 首次见到的储物柜不算变化。
func (s *SteamService) changedStorageUnit(units []InventoryItem) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := ""
	for _, u := range units {
		prev, seen := s.units[u.AssetID]
		if seen && prev != u.InstanceID && changed == "" {
			changed = u.AssetID
		}
		s.units[u.AssetID] = u.InstanceID
	}
	return changed
}

// Metadata 库存中的饰品元数据，用于补全 Item
func Metadata(inv []InventoryItem) []models.Item {
	seen := make(map[string]bool)
	var out []models.Item
	for _, it := range inv {
		if it.IsStorageUnit() || it.MarketHashName == "" || seen[it.MarketHashName] {
			continue
		}
		seen[it.MarketHashName] = true
		icon := ""
		if it.IconURL != "" {
			icon = "https://community.cloudflare.steamstatic.com/economy/image/" + it.IconURL
		}
		out = append(out, models.Item{
			Name:     it.MarketHashName,
			Category: models.Classify(it.MarketHashName),
			Type:     it.Type,
			Wear:     models.Wear(it.MarketHashName),
			IconURL:  icon,
		})
	}
	return out
}
