package logic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"
)

// Persistence 单个设备的三条持久化记录：用户、历史、主题
type Persistence struct {
	store     db.Store
	namespace string
}

func NewPersistence(store db.Store, namespace string) *Persistence {
	return &Persistence{store: store, namespace: namespace}
}

// load 读取并反序列化；不存在、读取失败或内容损坏都返回 false
func load[T any](ctx context.Context, p *Persistence, key string) (T, bool) {
	var v T
	raw, ok, err := p.store.Get(ctx, p.namespace, key)
	if err != nil {
		slog.Warn("Failed to read record", "device_id", p.namespace, "key", key, "error", err)
		return v, false
	}
	if !ok {
		return v, false
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		slog.Warn("Malformed record, using default", "device_id", p.namespace, "key", key, "error", err)
		var zero T
		return zero, false
	}
	return v, true
}

func (p *Persistence) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.store.Set(ctx, p.namespace, key, string(raw))
}

// LoadUser 存的是 null 时同样视为未登录
func (p *Persistence) LoadUser(ctx context.Context) *db.User {
	u, ok := load[*db.User](ctx, p, common.StorageKeyUser)
	if !ok {
		return nil
	}
	return u
}

func (p *Persistence) LoadHistory(ctx context.Context) []db.Scan {
	h, ok := load[[]db.Scan](ctx, p, common.StorageKeyHistory)
	if !ok || h == nil {
		return []db.Scan{}
	}
	return h
}

func (p *Persistence) LoadTheme(ctx context.Context, fallback bool) bool {
	dark, ok := load[*bool](ctx, p, common.StorageKeyTheme)
	if !ok || dark == nil {
		return fallback
	}
	return *dark
}

func (p *Persistence) SaveUser(ctx context.Context, user *db.User) error {
	return p.save(ctx, common.StorageKeyUser, user)
}

func (p *Persistence) SaveHistory(ctx context.Context, history []db.Scan) error {
	if history == nil {
		history = []db.Scan{}
	}
	return p.save(ctx, common.StorageKeyHistory, history)
}

func (p *Persistence) SaveTheme(ctx context.Context, dark bool) error {
	return p.save(ctx, common.StorageKeyTheme, dark)
}

// Clear 删除该设备的全部记录
func (p *Persistence) Clear(ctx context.Context) error {
	return p.store.Clear(ctx, p.namespace)
}
