package logic

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"

	"github.com/google/uuid"
)

// ChatFlow 内存中的聊天记录，只追加不修改，也不持久化
type ChatFlow struct {
	mu          sync.Mutex
	expert      Expert
	replayTurns int
	messages    []db.ChatMessage
	inFlight    bool
	done        chan struct{}
}

func NewChatFlow(expert Expert, replayTurns int) *ChatFlow {
	return &ChatFlow{
		expert:      expert,
		replayTurns: replayTurns,
		messages: []db.ChatMessage{
			{ID: uuid.NewString(), Role: db.RoleModel, Text: common.ChatGreeting},
		},
	}
}

// Send 立即追加用户消息，回复异步追加。
// 空白输入或上一条还没返回时忽略，返回 false。
func (c *ChatFlow) Send(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return false
	}
	var history []db.ChatMessage
	if c.replayTurns > 0 {
		history = append(history, c.messages...)
	}
	c.messages = append(c.messages, db.ChatMessage{ID: uuid.NewString(), Role: db.RoleUser, Text: text})
	c.inFlight = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.resolve(context.WithoutCancel(ctx), history, text, done)
	return true
}

func (c *ChatFlow) resolve(ctx context.Context, history []db.ChatMessage, text string, done chan struct{}) {
	reply, err := c.ask(ctx, history, text)
	switch {
	case err != nil:
		slog.Warn("Chat request failed", "error", err)
		reply = common.ChatConnectionErr
	case reply == "":
		reply = common.ChatEmptyReply
	}

	c.mu.Lock()
	c.messages = append(c.messages, db.ChatMessage{ID: uuid.NewString(), Role: db.RoleModel, Text: reply})
	c.inFlight = false
	c.mu.Unlock()
	close(done)
}

func (c *ChatFlow) ask(ctx context.Context, history []db.ChatMessage, text string) (string, error) {
	if c.replayTurns > 0 {
		if he, ok := c.expert.(HistoryExpert); ok {
			return he.AskExpertWithHistory(ctx, history, text)
		}
	}
	return c.expert.AskExpert(ctx, text)
}

// Wait 等待正在进行的请求结束
func (c *ChatFlow) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ChatFlow) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

func (c *ChatFlow) Messages() []db.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]db.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}
