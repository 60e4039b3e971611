package logic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"agrodetect-backend/internal/common"
	"agrodetect-backend/internal/db"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	langopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/memory"
)

// Analyzer 图片识别
type Analyzer interface {
	AnalyzeImage(ctx context.Context, jpeg []byte) (*db.ScanResult, error)
}

// Expert 单轮问答
type Expert interface {
	AskExpert(ctx context.Context, query string) (string, error)
}

// HistoryExpert 可以带上历史对话的 Expert，仅在 CHAT_REPLAY_TURNS>0 时使用
type HistoryExpert interface {
	AskExpertWithHistory(ctx context.Context, history []db.ChatMessage, query string) (string, error)
}

// Gateway 对接远程大模型的边界
type Gateway interface {
	Analyzer
	Expert
}

// AnalysisError 模型调用失败或返回内容无法解析
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ChatError 聊天调用失败
type ChatError struct {
	Err error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat failed: %v", e.Err)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

var scanResultKeys = []string{"plantName", "condition", "isDried", "confidence", "advice", "quotation", "careTips"}

// LLMGateway 基于 langchaingo 的 Gateway 实现
type LLMGateway struct {
	vision      llms.Model
	chat        llms.Model
	replayTurns int
}

func NewLLMGateway(vision, chat llms.Model) *LLMGateway {
	return &LLMGateway{vision: vision, chat: chat}
}

// WithReplayTurns 设置回放给模型的历史轮数，0 表示只发送当前问题
func (g *LLMGateway) WithReplayTurns(n int) *LLMGateway {
	g.replayTurns = n
	return g
}

// NewOpenAIGateway 通过 OpenAI 兼容接口连接模型
func NewOpenAIGateway(cfg *common.Config) (*LLMGateway, error) {
	vision, err := langopenai.New(
		langopenai.WithToken(cfg.AIToken),
		langopenai.WithModel(cfg.AIVisionModel),
		langopenai.WithBaseURL(cfg.AIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("create vision model: %w", err)
	}
	chat, err := langopenai.New(
		langopenai.WithToken(cfg.AIToken),
		langopenai.WithModel(cfg.AIChatModel),
		langopenai.WithBaseURL(cfg.AIBaseURL))
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return NewLLMGateway(vision, chat).WithReplayTurns(cfg.ChatReplayTurns), nil
}

// FakeScanJSON AI_FAKE 模式下的固定识别结果
const FakeScanJSON = `{"plantName":"Tomato","condition":"Healthy","isDried":false,"confidence":0.93,"advice":"Keep the soil evenly moist and remove lower leaves touching the ground.","quotation":"To plant a garden is to believe in tomorrow.","careTips":["Water at the base in the morning","Give 6-8 hours of sun","Stake the stems as they grow"]}`

// NewFakeGateway 不访问网络的 Gateway，本地联调使用
func NewFakeGateway() *LLMGateway {
	return NewLLMGateway(
		&serialModel{Model: fake.NewFakeLLM([]string{FakeScanJSON})},
		&serialModel{Model: fake.NewFakeLLM([]string{FakeChatReply})},
	)
}

// FakeChatReply AI_FAKE 模式下的固定聊天回复
const FakeChatReply = "Healthy leaves are firm and evenly green. Tell me what you see on your plant and I'll help."

// serialModel 串行化调用，fake.LLM 内部游标没有加锁
type serialModel struct {
	mu sync.Mutex
	llms.Model
}

func (m *serialModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model.GenerateContent(ctx, messages, options...)
}

func (m *serialModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// AnalyzeImage 发送图片和固定指令，解析七个字段
func (g *LLMGateway) AnalyzeImage(ctx context.Context, jpeg []byte) (*db.ScanResult, error) {
	if len(jpeg) == 0 {
		return nil, &AnalysisError{Err: errors.New("empty image")}
	}
	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.ImageURLPart(JPEGDataURI(jpeg)),
			llms.TextPart(common.AnalyzePrompt),
		},
	}
	resp, err := g.vision.GenerateContent(ctx, []llms.MessageContent{msg}, llms.WithJSONMode())
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &AnalysisError{Err: errors.New("empty response from model")}
	}
	result, err := ParseScanResult(resp.Choices[0].Content)
	if err != nil {
		return nil, &AnalysisError{Err: err}
	}
	return result, nil
}

// AskExpert 每次都是新的单轮对话
func (g *LLMGateway) AskExpert(ctx context.Context, query string) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, common.ExpertPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, query),
	}
	resp, err := g.chat.GenerateContent(ctx, msgs)
	if err != nil {
		return "", &ChatError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &ChatError{Err: errors.New("empty response from model")}
	}
	return resp.Choices[0].Content, nil
}

// AskExpertWithHistory 把最近的对话放进窗口记忆后再提问
func (g *LLMGateway) AskExpertWithHistory(ctx context.Context, history []db.ChatMessage, query string) (string, error) {
	if g.replayTurns <= 0 {
		return g.AskExpert(ctx, query)
	}
	chatMemory := memory.NewConversationWindowBuffer(g.replayTurns)
	if err := chatMemory.ChatHistory.AddUserMessage(ctx, common.ExpertPrompt); err != nil {
		return "", &ChatError{Err: err}
	}
	for _, h := range history {
		var err error
		if h.Role == db.RoleUser {
			err = chatMemory.ChatHistory.AddUserMessage(ctx, h.Text)
		} else {
			err = chatMemory.ChatHistory.AddAIMessage(ctx, h.Text)
		}
		if err != nil {
			return "", &ChatError{Err: err}
		}
	}
	chain := chains.NewConversation(g.chat, chatMemory)
	resp, err := chains.Run(ctx, chain, query)
	if err != nil {
		return "", &ChatError{Err: err}
	}
	return resp, nil
}

// ParseScanResult 校验七个字段都存在且类型正确
func ParseScanResult(text string) (*db.ScanResult, error) {
	text = stripCodeFence(text)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	for _, k := range scanResultKeys {
		v, ok := raw[k]
		if !ok || string(v) == "null" {
			return nil, fmt.Errorf("model output missing field %q", k)
		}
	}
	var result db.ScanResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if result.CareTips == nil {
		result.CareTips = []string{}
	}
	return &result, nil
}

// 模型偶尔会用 ```json 包一层
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// JPEGDataURI 生成可以直接放进 img 标签的 data URI
func JPEGDataURI(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

// SplitGateway 识别和聊天分别走不同的后端
type SplitGateway struct {
	Analyzer
	Expert
}

func (s SplitGateway) AskExpertWithHistory(ctx context.Context, history []db.ChatMessage, query string) (string, error) {
	if he, ok := s.Expert.(HistoryExpert); ok {
		return he.AskExpertWithHistory(ctx, history, query)
	}
	return s.Expert.AskExpert(ctx, query)
}
