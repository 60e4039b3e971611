package main

import (
	"fmt"
	"log/slog"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"
	"agrodetect-backend/internal/logic"
)

// buildGateway 根据配置组装识别和聊天后端
func buildGateway(cfg *common.Config) (logic.Gateway, error) {
	var llm *logic.LLMGateway
	if cfg.AIFake {
		slog.Warn("AI_FAKE enabled, using canned model responses")
		llm = logic.NewFakeGateway()
	} else {
		var err error
		if llm, err = logic.NewOpenAIGateway(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.AIFake || cfg.ChatProvider != common.ProviderHunyuan {
		return llm, nil
	}
	expert, err := logic.NewHunyuanExpert(cfg)
	if err != nil {
		return nil, fmt.Errorf("create hunyuan client: %w", err)
	}
	return logic.SplitGateway{Analyzer: llm, Expert: expert}, nil
}

// openStore 打开数据库并返回关闭函数
func openStore(cfg *db.Config) (db.Store, func() error, error) {
	if cfg.Driver == db.DriverMemory {
		slog.Warn("Using in-memory store, records are lost on restart")
		return db.NewMemoryStore(), func() error { return nil }, nil
	}
	gdb, err := db.InitDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get sql db: %w", err)
	}
	return db.NewKVStore(gdb), sqlDB.Close, nil
}

func appOptions(cfg *common.Config) logic.AppOptions {
	return logic.AppOptions{
		Encoder:     logic.FrameEncoder{Quality: cfg.JPEGQuality, MaxEdge: cfg.MaxImageEdge},
		ReplayTurns: cfg.ChatReplayTurns,
	}
}
