package logic

import (
	"context"

	"agrodetect-backend/internal/db"
)

// HistoryStore 扫描历史，最新的在最前面。
// 不做并发保护，由 App 串行调用。
type HistoryStore struct {
	scans []db.Scan
	save  func(ctx context.Context, scans []db.Scan) error
}

func NewHistoryStore(initial []db.Scan, save func(ctx context.Context, scans []db.Scan) error) *HistoryStore {
	scans := make([]db.Scan, len(initial))
	copy(scans, initial)
	return &HistoryStore{scans: scans, save: save}
}

// Insert 插入到最前面
func (h *HistoryStore) Insert(ctx context.Context, scan db.Scan) error {
	h.scans = append([]db.Scan{scan}, h.scans...)
	return h.persist(ctx)
}

// Delete 删除第一条匹配的记录，不存在时不做任何事
func (h *HistoryStore) Delete(ctx context.Context, id string) (bool, error) {
	for i := range h.scans {
		if h.scans[i].ID == id {
			h.scans = append(h.scans[:i:i], h.scans[i+1:]...)
			return true, h.persist(ctx)
		}
	}
	return false, nil
}

func (h *HistoryStore) List() []db.Scan {
	out := make([]db.Scan, len(h.scans))
	copy(out, h.scans)
	return out
}

func (h *HistoryStore) Get(id string) (db.Scan, bool) {
	for _, s := range h.scans {
		if s.ID == id {
			return s, true
		}
	}
	return db.Scan{}, false
}

func (h *HistoryStore) Len() int {
	return len(h.scans)
}

// reset 只清空内存，持久化由调用方负责
func (h *HistoryStore) reset() {
	h.scans = []db.Scan{}
}

func (h *HistoryStore) persist(ctx context.Context) error {
	if h.save == nil {
		return nil
	}
	return h.save(ctx, h.scans)
}
