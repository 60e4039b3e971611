package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 按 namespace 隔离的键值存储
type Store interface {
	// Get 返回记录值；不存在时 ok 为 false
	Get(ctx context.Context, namespace, key string) (value string, ok bool, err error)
	// Set 整体覆盖写入，value 必须是合法 JSON
	Set(ctx context.Context, namespace, key, value string) error
	// Clear 删除 namespace 下的所有记录
	Clear(ctx context.Context, namespace string) error
}

// KVStore 基于 gorm 的 Store 实现
type KVStore struct {
	db *gorm.DB
}

func NewKVStore(db *gorm.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND record_key = ?", namespace, key).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get record %s/%s: %w", namespace, key, err)
	}
	return rec.Value.String(), true, nil
}

func (s *KVStore) Set(ctx context.Context, namespace, key, value string) error {
	rec := KVRecord{Namespace: namespace, Key: key, Value: datatypes.JSON(value), UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("set record %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *KVStore) Clear(ctx context.Context, namespace string) error {
	err := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Delete(&KVRecord{}).Error
	if err != nil {
		return fmt.Errorf("clear namespace %s: %w", namespace, err)
	}
	return nil
}
