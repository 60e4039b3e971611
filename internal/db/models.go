package db

import (
	"time"

	"gorm.io/datatypes"
)

// KVRecord 键值记录表，每个设备一个 namespace
type KVRecord struct {
	Namespace string         `gorm:"primaryKey;size:128" json:"namespace"`
	Key       string         `gorm:"column:record_key;primaryKey;size:64" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// User 本地资料，不是认证凭据
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// ScanResult 视觉模型返回的七个字段
type ScanResult struct {
	PlantName  string   `json:"plantName"`
	Condition  string   `json:"condition"`
	IsDried    bool     `json:"isDried"`
	Confidence float64  `json:"confidence"`
	Advice     string   `json:"advice"`
	Quotation  string   `json:"quotation"`
	CareTips   []string `json:"careTips"`
}

// Scan 一次完整的识别记录，创建后不可修改
// timestamp: 毫秒时间戳
// imageUrl: data:image/jpeg;base64,...
type Scan struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	ImageURL  string `json:"imageUrl"`
	ScanResult
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage 聊天记录，只保存在内存中
type ChatMessage struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}
